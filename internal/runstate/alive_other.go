//go:build !unix

package runstate

// pidAlive cannot probe without signals; stale detection is disabled.
func pidAlive(_ int) bool {
	return false
}
