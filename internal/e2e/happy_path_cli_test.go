package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"vitalwatch/internal/config"
)

var testBinaryPath string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "vitalwatch-e2e-bin-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e setup failed: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	binName := "vitalwatch"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	testBinaryPath = filepath.Join(tmpDir, binName)

	buildCmd := exec.Command("go", "build", "-o", testBinaryPath, "./cmd/vitalwatch")
	buildCmd.Dir = repoRoot()
	buildCmd.Env = os.Environ()
	if out, err := buildCmd.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "e2e binary build failed: %v\n%s\n", err, string(out))
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type serverHandle struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	done    chan error
	baseURL string
	cfgPath string
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
}

type wardSummary struct {
	Started        bool
	SeededPatients int
	SeverityRead   bool
	Discharged     bool
	AfterDischarge int
	ErrorCount     int
}

const seedPatients = 6

func TestE2E_WardHappyPath(t *testing.T) {
	t.Parallel()

	summary := wardSummary{}
	var errs []string
	addErr := func(err error) {
		if err == nil {
			return
		}
		errs = append(errs, err.Error())
		summary.ErrorCount++
	}

	workDir := t.TempDir()
	port, err := freePort()
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	env := isolatedEnv(fmt.Sprintf("http://127.0.0.1:%d", port))

	h, err := startServer(workDir, port, env)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	summary.Started = true
	defer func() {
		if stopErr := stopServer(h, 6*time.Second); stopErr != nil {
			t.Errorf("stop server: %v", stopErr)
		}
	}()

	var firstID string
	out, _, runErr := runCLIJSON(env, "--json", "patients", "list", "--per-page", "50")
	if runErr != nil {
		addErr(fmt.Errorf("patients list: %w", runErr))
	} else {
		summary.SeededPatients = nestedInt(out, "pagination", "total")
		if patients := nestedSlice(out, "patients"); len(patients) > 0 {
			if p, ok := patients[0].(map[string]any); ok {
				firstID, _ = p["id"].(string)
			}
		}
	}

	if firstID != "" {
		out, _, runErr = runCLIJSON(env, "--json", "patients", "get", firstID)
		if runErr != nil {
			addErr(fmt.Errorf("patients get: %w", runErr))
		} else if level := nestedString(out, "analysis", "level"); level != "" {
			summary.SeverityRead = true
		}

		if _, _, runErr = runCLI(env, "patients", "discharge", firstID); runErr != nil {
			addErr(fmt.Errorf("patients discharge: %w", runErr))
		} else {
			summary.Discharged = true
		}

		out, _, runErr = runCLIJSON(env, "--json", "patients", "list", "--per-page", "50")
		if runErr != nil {
			addErr(fmt.Errorf("patients list after discharge: %w", runErr))
		} else {
			summary.AfterDischarge = nestedInt(out, "pagination", "total")
		}
	}

	pass := summary.Started &&
		summary.SeededPatients == seedPatients &&
		summary.SeverityRead &&
		summary.Discharged &&
		summary.AfterDischarge == seedPatients-1 &&
		summary.ErrorCount == 0
	if !pass {
		t.Fatalf("ward e2e failed: summary=%+v errors=%v stderr=%s", summary, errs, h.stderr.String())
	}
}

func TestE2E_ServerTeardown_IsClean(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	port, err := freePort()
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	env := isolatedEnv(baseURL)

	h, err := startServer(workDir, port, env)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	out, _, err := runCLIJSON(env, "--json", "status")
	if err != nil {
		_ = stopServer(h, 3*time.Second)
		t.Fatalf("status before teardown: %v", err)
	}
	if got := nestedString(out, "health", "status"); got != "ok" {
		t.Errorf("unexpected health status %q", got)
	}

	if err := stopServer(h, 6*time.Second); err != nil {
		t.Fatalf("stop server: %v", err)
	}
	if !waitForHealthDown(baseURL, 4*time.Second) {
		t.Fatal("health endpoint still reachable after teardown")
	}
	if _, _, err := runCLI(env, "status"); err == nil {
		t.Fatal("status should fail once the server is down")
	}
}

func startServer(workDir string, port int, env []string) (*serverHandle, error) {
	cfgPath, err := writeIsolatedConfig(workDir, port)
	if err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, testBinaryPath, "--config", cfgPath, "server")
	cmd.Dir = workDir
	cmd.Env = env
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start server: %w", err)
	}

	h := &serverHandle{
		cmd:     cmd,
		cancel:  cancel,
		done:    make(chan error, 1),
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		cfgPath: cfgPath,
		stdout:  stdout,
		stderr:  stderr,
	}
	go func() {
		h.done <- cmd.Wait()
	}()

	if err := waitForReady(h, env, 25*time.Second); err != nil {
		_ = stopServer(h, 3*time.Second)
		return nil, err
	}
	return h, nil
}

// stopServer interrupts first so the graceful shutdown path runs, then kills on timeout.
func stopServer(h *serverHandle, timeout time.Duration) error {
	if h == nil {
		return nil
	}
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case err := <-h.done:
		h.cancel()
		return err
	case <-time.After(timeout):
		h.cancel()
		select {
		case <-h.done:
			return errors.New("server ignored interrupt and had to be killed")
		case <-time.After(2 * time.Second):
			return errors.New("server did not exit after kill")
		}
	}
}

func waitForReady(h *serverHandle, env []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case err := <-h.done:
			return fmt.Errorf("server exited early: %v stderr=%s stdout=%s", err, h.stderr.String(), h.stdout.String())
		default:
		}
		_, _, err := runCLI(env, "status")
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for readiness: %v stderr=%s", lastErr, h.stderr.String())
}

func runCLI(env []string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, testBinaryPath, args...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		err = fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

func runCLIJSON(env []string, args ...string) (map[string]any, string, error) {
	stdout, stderr, err := runCLI(env, args...)
	if err != nil {
		return nil, stderr, err
	}
	var out map[string]any
	if uErr := json.Unmarshal([]byte(stdout), &out); uErr != nil {
		return nil, stderr, fmt.Errorf("decode json output: %w stdout=%s", uErr, stdout)
	}
	return out, stderr, nil
}

// isolatedEnv points client commands at the test server; a stray VITALWATCH_* variable from
// the host would otherwise override the generated config.
func isolatedEnv(baseURL string) []string {
	out := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "VITALWATCH_") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "VITALWATCH_URL="+baseURL)
}

func writeIsolatedConfig(workDir string, port int) (string, error) {
	cfgPath := filepath.Join(workDir, "config.yaml")
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port
	cfg.Database.Path = filepath.Join(workDir, "data.db")
	cfg.Database.BackupPath = filepath.Join(workDir, "backups")
	cfg.Logging.File = filepath.Join(workDir, "vitalwatch.log")
	cfg.Simulator.Enabled = true
	cfg.Simulator.SeedPatients = seedPatients
	// Keep the census stable during the test; only vitals drift.
	cfg.Simulator.CensusSchedule = "@every 1h"
	cfg.Simulator.VitalsSchedule = "@every 1s"
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(cfgPath, b, 0o600); err != nil {
		return "", err
	}
	return cfgPath, nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected listener addr type")
	}
	return addr.Port, nil
}

func waitForHealthDown(baseURL string, timeout time.Duration) bool {
	client := &http.Client{Timeout: 350 * time.Millisecond}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/healthz")
		if err != nil {
			return true
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		time.Sleep(120 * time.Millisecond)
	}
	return false
}

func nestedValue(m map[string]any, path ...string) any {
	var current any = m
	for _, p := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[p]
	}
	return current
}

func nestedString(m map[string]any, path ...string) string {
	s, _ := nestedValue(m, path...).(string)
	return s
}

func nestedInt(m map[string]any, path ...string) int {
	f, _ := nestedValue(m, path...).(float64)
	return int(f)
}

func nestedSlice(m map[string]any, path ...string) []any {
	v, _ := nestedValue(m, path...).([]any)
	return v
}

func repoRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
