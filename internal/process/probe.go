package process

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ProbeVersion runs "<binary> --version" and returns the first line of its
// output, e.g. "v20.11.1" for node or "10.2.4" for npm.
func ProbeVersion(ctx context.Context, binary string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, "--version")

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s --version failed: %w", binary, err)
	}

	return firstLine(string(output)), nil
}

// firstLine returns the first non-empty trimmed line of s, or "unknown".
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return "unknown"
}
