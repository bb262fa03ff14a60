package mcpbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"vitalwatch/internal/api"
	"vitalwatch/internal/api/handlers"
	ws "vitalwatch/internal/api/websocket"
	"vitalwatch/internal/broker"
	"vitalwatch/internal/config"
	"vitalwatch/internal/logging"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/service"
	"vitalwatch/internal/storage"
	"vitalwatch/internal/storage/repos"
)

func TestMCPInProcessToolRoundTrip(t *testing.T) {
	env := setupMCPTestEnv(t)
	bridge := New(Options{Config: env.cfg, Router: env.router})

	client, err := mcpclient.NewInProcessClient(bridge.MCPServer())
	if err != nil {
		t.Fatalf("new in-process client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	if _, err := client.Initialize(ctx, initializeRequest()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	tools, err := client.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	for _, spec := range ToolSpecs() {
		if !hasTool(tools.Tools, spec.Name) {
			t.Fatalf("tool %s not exposed", spec.Name)
		}
	}

	admitted := callTool(t, client, "patients_admit", map[string]any{
		"payload": map[string]any{
			"name": "Mary Seacole",
			"age":  71,
			"room": "305",
			"vitals": map[string]any{
				"heartRate":        88,
				"bloodPressure":    map[string]any{"systolic": 150, "diastolic": 85},
				"oxygenSaturation": 96,
				"temperature":      37.1,
				"respiratoryRate":  18,
			},
		},
	})
	if admitted.IsError {
		t.Fatalf("admit returned error: %#v", admitted)
	}
	var out struct {
		StatusCode int `json:"status_code"`
		Data       struct {
			Patient struct {
				ID string `json:"id"`
			} `json:"patient"`
		} `json:"data"`
	}
	decodeResult(t, admitted, &out)
	if out.StatusCode != http.StatusCreated || out.Data.Patient.ID == "" {
		t.Fatalf("unexpected admit result: %+v", out)
	}

	severity := callTool(t, client, "patients_severity", map[string]any{"id": out.Data.Patient.ID})
	if severity.IsError {
		t.Fatalf("severity returned error: %#v", severity)
	}
	var sev struct {
		Data struct {
			Analysis struct {
				IsBPHigh bool   `json:"isBPHigh"`
				Level    string `json:"level"`
			} `json:"analysis"`
		} `json:"data"`
	}
	decodeResult(t, severity, &sev)
	if !sev.Data.Analysis.IsBPHigh || sev.Data.Analysis.Level != "warning" {
		t.Fatalf("unexpected analysis: %+v", sev.Data.Analysis)
	}

	listed := callTool(t, client, "patients_list", map[string]any{"query": map[string]any{"room": "305", "per_page": 10}})
	if listed.IsError {
		t.Fatalf("list returned error: %#v", listed)
	}
}

func TestMCPToolErrorsSurfaceAPIErrors(t *testing.T) {
	env := setupMCPTestEnv(t)
	bridge := New(Options{Config: env.cfg, Router: env.router})

	client, err := mcpclient.NewInProcessClient(bridge.MCPServer())
	if err != nil {
		t.Fatalf("new in-process client: %v", err)
	}
	defer client.Close()
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	if _, err := client.Initialize(ctx, initializeRequest()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	missing := callTool(t, client, "patients_get", map[string]any{"id": "does-not-exist"})
	if !missing.IsError {
		t.Fatal("expected error result for unknown patient")
	}
	noID := callTool(t, client, "patients_get", map[string]any{})
	if !noID.IsError {
		t.Fatal("expected error result for missing path argument")
	}
}

func TestMCPHTTPHandler(t *testing.T) {
	env := setupMCPTestEnv(t)
	bridge := New(Options{Config: env.cfg, Router: env.router})

	ts := httptest.NewServer(bridge.HTTPHandler())
	defer ts.Close()

	ctx := context.Background()
	client, err := mcpclient.NewStreamableHttpClient(ts.URL + env.cfg.MCP.HTTP.Path)
	if err != nil {
		t.Fatalf("new http client: %v", err)
	}
	defer client.Close()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	if _, err := client.Initialize(ctx, initializeRequest()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	res := callTool(t, client, "broker_stats", nil)
	if res.IsError {
		t.Fatalf("broker_stats returned error: %#v", res)
	}
}

type mcpTestEnv struct {
	cfg    config.Config
	router http.Handler
}

func setupMCPTestEnv(t *testing.T) mcpTestEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "mcp-test.db")
	cfg.MCP.Enabled = true
	cfg.MCP.HTTP.Enabled = true
	cfg.MCP.HTTP.Path = "/mcp"

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := storage.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logging.Discard()
	m := metrics.New()
	b := broker.New(broker.Options{BatchTimeout: time.Hour, Logger: log, Metrics: m})
	t.Cleanup(b.Close)
	app := service.New(cfg, repos.New(db), b, log)
	router := api.NewRouter(handlers.New(app, b, db, cfg), ws.NewHub(b, ws.Options{}, log), m, log)

	return mcpTestEnv{cfg: cfg, router: router}
}

func callTool(t *testing.T, client *mcpclient.Client, name string, args map[string]any) *mcptypes.CallToolResult {
	t.Helper()
	req := mcptypes.CallToolRequest{Params: mcptypes.CallToolParams{Name: name}}
	if args != nil {
		req.Params.Arguments = args
	}
	res, err := client.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	return res
}

func decodeResult(t *testing.T, res *mcptypes.CallToolResult, dst any) {
	t.Helper()
	for _, c := range res.Content {
		if text, ok := mcptypes.AsTextContent(c); ok {
			if err := json.Unmarshal([]byte(text.Text), dst); err != nil {
				t.Fatalf("decode tool result: %v (%s)", err, text.Text)
			}
			return
		}
	}
	t.Fatalf("tool result has no text content: %#v", res)
}

func initializeRequest() mcptypes.InitializeRequest {
	return mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: mcptypes.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcptypes.Implementation{
				Name:    "vitalwatch-test-client",
				Version: "0.0.1",
			},
			Capabilities: mcptypes.ClientCapabilities{},
		},
	}
}

func hasTool(tools []mcptypes.Tool, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}
