//go:build integration

// End-to-end tests against real node and npm. Run with:
// go test -tags=integration ./internal/orchestrator/...
package orchestrator

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-devstack/internal/config"
	"github.com/randomizedcoder/go-devstack/internal/logging"
)

// serverJS listens on PORT and answers /health.
const serverJS = `const http = require("http");
const port = Number(process.env.PORT);
http.createServer((req, res) => {
  res.end(req.url === "/health" ? "ok" : "hello");
}).listen(port, () => console.log("listening on " + port));
`

func requireNPM(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"node", "npm"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not in PATH - skipping integration test", tool)
		}
	}
}

// nodeProject writes a root whose services run serverJS on their ports.
func nodeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	ports := map[string]int{config.BackendRole: config.BackendPort, config.DashboardRole: config.DashboardPort}
	for role, port := range ports {
		dir := filepath.Join(root, role)
		if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755); err != nil {
			t.Fatal(err)
		}
		pkg := `{"name":"` + role + `","private":true,"scripts":{"dev":"PORT=` +
			strconv.Itoa(port) + ` node server.js"}}`
		if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "server.js"), []byte(serverJS), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestIntegration_RealNPMServices(t *testing.T) {
	requireNPM(t)

	cfg := config.DefaultConfig()
	cfg.Root = nodeProject(t)
	cfg.ReadyMode = config.ReadyHTTP
	cfg.ReadyTimeout = 30 * time.Second
	cfg.NoColor = true

	out := &lockedBuffer{}
	signals := make(chan os.Signal, 1)
	orch := New(cfg, logging.NewLoggerWithWriter(nil, "text", "info"), Options{
		Version: "integration",
		Out:     out,
		Signals: signals,
	})

	code := make(chan int, 1)
	go func() { code <- orch.Run(context.Background()) }()

	deadline := time.Now().Add(60 * time.Second)
	for !strings.Contains(out.String(), "[DASHBOARD] listening on 3000") {
		if time.Now().After(deadline) {
			t.Fatalf("dashboard did not start:\n%s", out.String())
		}
		time.Sleep(100 * time.Millisecond)
	}

	resp, err := http.Get(config.HealthURL())
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("health body = %q, want ok", body)
	}

	signals <- os.Interrupt
	select {
	case c := <-code:
		if c != 0 {
			t.Errorf("exit code = %d, want 0:\n%s", c, out.String())
		}
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not return after interrupt")
	}

	if _, err := http.Get(config.HealthURL()); err == nil {
		t.Error("backend still answering after shutdown")
	}
}
