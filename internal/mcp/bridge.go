// Package mcpbridge exposes the REST API as MCP tools. Each tool call is replayed against the
// in-process router, so tools and HTTP endpoints share validation and error mapping.
package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"vitalwatch/internal/config"
)

type Options struct {
	Config  config.Config
	Router  http.Handler
	Version string
}

type Bridge struct {
	cfg    config.Config
	router http.Handler
	server *mcpserver.MCPServer
}

type ToolSpec struct {
	Name        string
	Description string
	Method      string
	Path        string
	HasPayload  bool
	HasQuery    bool
}

type apiEnvelope struct {
	OK         bool `json:"ok"`
	Data       any  `json:"data"`
	Error      any  `json:"error"`
	Pagination any  `json:"pagination"`
}

var routeParamPattern = regexp.MustCompile(`\{([^{}]+)\}`)

func New(opts Options) *Bridge {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	b := &Bridge{cfg: opts.Config, router: opts.Router}
	b.server = mcpserver.NewMCPServer(
		"vitalwatch",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions("Use vitalwatch tools to inspect ward patients, record vital signs, admit and discharge patients, and check the live update broker."),
	)
	for _, spec := range ToolSpecs() {
		b.server.AddTool(spec.toTool(), b.makeToolHandler(spec))
	}
	return b
}

func (b *Bridge) MCPServer() *mcpserver.MCPServer {
	return b.server
}

func (b *Bridge) ServeStdio() error {
	return mcpserver.ServeStdio(b.server)
}

func (b *Bridge) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(
		b.server,
		mcpserver.WithEndpointPath(b.cfg.MCP.HTTP.Path),
	)
}

// ToolSpecs lists every exposed tool and the REST route it maps onto.
func ToolSpecs() []ToolSpec {
	return []ToolSpec{
		{Name: "patients_list", Description: "List admitted patients; query accepts room, sort (name|room|admitted|severity), page, per_page", Method: http.MethodGet, Path: "/api/v1/patients", HasQuery: true},
		{Name: "patients_get", Description: "Get an admitted patient by id", Method: http.MethodGet, Path: "/api/v1/patients/{id}"},
		{Name: "patients_severity", Description: "Score a patient's current vitals against the alert thresholds", Method: http.MethodGet, Path: "/api/v1/patients/{id}/severity"},
		{Name: "patients_update_vitals", Description: "Record a partial vitals reading for a patient", Method: http.MethodPatch, Path: "/api/v1/patients/{id}/vitals", HasPayload: true},
		{Name: "patients_admit", Description: "Admit a patient to a room", Method: http.MethodPost, Path: "/api/v1/patients", HasPayload: true},
		{Name: "patients_discharge", Description: "Discharge a patient", Method: http.MethodDelete, Path: "/api/v1/patients/{id}"},

		{Name: "preferences_list", Description: "List stored dashboard preferences", Method: http.MethodGet, Path: "/api/v1/preferences"},
		{Name: "preferences_get", Description: "Get a dashboard preference", Method: http.MethodGet, Path: "/api/v1/preferences/{key}"},
		{Name: "preferences_put", Description: "Store a dashboard preference; payload is the JSON value", Method: http.MethodPut, Path: "/api/v1/preferences/{key}", HasPayload: true},

		{Name: "broker_stats", Description: "Live update broker sessions, topics and counters", Method: http.MethodGet, Path: "/api/v1/broker/stats"},
		{Name: "admin_stats", Description: "Database and broker statistics", Method: http.MethodGet, Path: "/api/v1/admin/stats"},
	}
}

func (s ToolSpec) toTool() mcptypes.Tool {
	opts := []mcptypes.ToolOption{
		mcptypes.WithDescription(s.Description),
	}
	for _, param := range pathParams(s.Path) {
		opts = append(opts, mcptypes.WithString(param, mcptypes.Required(), mcptypes.Description("Path parameter: "+param)))
	}
	if s.HasQuery {
		opts = append(opts, mcptypes.WithObject("query", mcptypes.Description("Query string parameters")))
	}
	if s.HasPayload {
		opts = append(opts, mcptypes.WithObject("payload", mcptypes.Required(), mcptypes.Description("JSON request payload")))
	}
	return mcptypes.NewTool(s.Name, opts...)
}

func (b *Bridge) makeToolHandler(spec ToolSpec) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		path, err := fillPath(spec.Path, args)
		if err != nil {
			return mcptypes.NewToolResultError(err.Error()), nil
		}

		var query map[string]any
		if spec.HasQuery {
			query = getArgMap(args, "query")
		}
		var payload any
		if spec.HasPayload {
			payload = args["payload"]
			if payload == nil {
				return mcptypes.NewToolResultError("missing required argument: payload"), nil
			}
		}

		env, status, err := b.invokeREST(ctx, spec.Method, path, query, payload)
		if err != nil {
			return mcptypes.NewToolResultError(err.Error()), nil
		}
		if !env.OK {
			return mcptypes.NewToolResultError(apiErrorText(env.Error, status)), nil
		}

		out := map[string]any{
			"status_code": status,
			"data":        env.Data,
		}
		if env.Pagination != nil {
			out["pagination"] = env.Pagination
		}
		return mcptypes.NewToolResultJSON(out)
	}
}

func (b *Bridge) invokeREST(ctx context.Context, method, path string, query map[string]any, payload any) (apiEnvelope, int, error) {
	target := path
	if len(query) > 0 {
		q := url.Values{}
		for k, v := range query {
			appendQueryValue(q, k, v)
		}
		if qs := q.Encode(); qs != "" {
			target += "?" + qs
		}
	}

	body := bytes.NewReader(nil)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apiEnvelope{}, 0, err
		}
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, body).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "mcp"

	rr := httptest.NewRecorder()
	b.router.ServeHTTP(rr, req)

	var env apiEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		return apiEnvelope{}, rr.Code, fmt.Errorf("invalid API response: %w", err)
	}
	return env, rr.Code, nil
}

func fillPath(path string, args map[string]any) (string, error) {
	out := path
	for _, key := range pathParams(path) {
		value := strings.TrimSpace(argString(args, key))
		if value == "" {
			return "", fmt.Errorf("missing required path argument: %s", key)
		}
		out = strings.ReplaceAll(out, "{"+key+"}", url.PathEscape(value))
	}
	return out, nil
}

func pathParams(path string) []string {
	matches := routeParamPattern.FindAllStringSubmatch(path, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) == 2 {
			out = append(out, m[1])
		}
	}
	return out
}

func getArgMap(args map[string]any, key string) map[string]any {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	if m, ok := raw.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func appendQueryValue(q url.Values, key string, raw any) {
	switch v := raw.(type) {
	case nil:
		return
	case []any:
		for _, it := range v {
			q.Add(key, fmt.Sprint(it))
		}
	default:
		q.Add(key, fmt.Sprint(v))
	}
}

func apiErrorText(apiErr any, status int) string {
	if m, ok := apiErr.(map[string]any); ok {
		code, _ := m["code"].(string)
		msg, _ := m["message"].(string)
		if code != "" && msg != "" {
			return code + ": " + msg
		}
		if msg != "" {
			return msg
		}
	}
	if apiErr != nil {
		return fmt.Sprint(apiErr)
	}
	return fmt.Sprintf("request failed with status %d", status)
}
