package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/pachai/internal/api"
	"github.com/kalambet/pachai/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Actor  string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			Actor:  r.Header.Get(api.ActorHeader),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		actor:      "alice",
		httpClient: ts.server.Client(),
	}
}

// useServer points the commands at ts for the duration of the test.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	return rootCmd.Execute()
}

var ctx = context.Background()

func TestAPIClient_Headers(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /products": `[]`,
	})

	resp, err := ts.client().get(ctx, "/products")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var products []any
	if err := decodeJSON(resp, &products); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if r.Actor != "alice" {
		t.Errorf("actor = %q, want alice", r.Actor)
	}
}

func TestAPIClient_ServerStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(403)
		w.Write([]byte(`{"error":{"message":"access denied","type":"permission_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/products/p1")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("error = %q, want status and message", err.Error())
	}
}

func TestResolveActor(t *testing.T) {
	oldFlag := actorFlag
	defer func() { actorFlag = oldFlag }()

	t.Setenv("PACHAI_ACTOR", "env-actor")
	t.Setenv("USER", "unix-user")

	actorFlag = "flag-actor"
	if got := resolveActor(); got != "flag-actor" {
		t.Errorf("with flag: got %q", got)
	}
	actorFlag = ""
	if got := resolveActor(); got != "env-actor" {
		t.Errorf("with env: got %q", got)
	}
	t.Setenv("PACHAI_ACTOR", "")
	if got := resolveActor(); got != "unix-user" {
		t.Errorf("with USER: got %q", got)
	}
}

func TestConversationSend_WithSearchConfirmation(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /conversations/c1/turns": `{"response":"Encontrei duas referências.","status":"active","tendency":{"primary":"exploration","confidence":0.8}}`,
	})
	useServer(t, ts)

	if err := runCommand(t, "conversation", "send", "c1", "ok,", "pode", "pesquisar", "--search", "churn em saas"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body struct {
		Content            string `json:"content"`
		SearchConfirmation struct {
			ConversationID string `json:"conversation_id"`
			Query          string `json:"query"`
			UserConfirmed  bool   `json:"user_confirmed"`
		} `json:"search_confirmation"`
	}
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Content != "ok, pode pesquisar" {
		t.Errorf("content = %q", body.Content)
	}
	sc := body.SearchConfirmation
	if sc.ConversationID != "c1" || sc.Query != "churn em saas" || !sc.UserConfirmed {
		t.Errorf("search_confirmation = %+v", sc)
	}
}

func TestConversationTransitions(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /conversations/c1/pause":  `{"id":"c1","status":"paused"}`,
		"POST /conversations/c1/resume": `{"id":"c1","status":"active"}`,
	})
	useServer(t, ts)

	for _, action := range []string{"pause", "resume"} {
		if err := runCommand(t, "conversation", action, "c1"); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}
	if len(ts.requests) != 2 || ts.requests[0].Path != "/conversations/c1/pause" || ts.requests[1].Path != "/conversations/c1/resume" {
		t.Errorf("requests = %+v", ts.requests)
	}
}

func TestVeredictConfirm_RequiresConfirmFlag(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /conversations/c1/veredicts": `{"id":"v1","version":1}`,
	})
	useServer(t, ts)

	if err := runCommand(t, "veredict", "confirm", "c1", "--pain", "onboarding lento", "--value", "ativação rápida"); err != nil {
		t.Fatalf("confirm without flag: %v", err)
	}
	if len(ts.requests) != 0 {
		t.Fatalf("veredict sent without --confirm: %+v", ts.requests)
	}

	if err := runCommand(t, "veredict", "confirm", "c1", "--pain", "onboarding lento", "--value", "ativação rápida", "--confirm"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body map[string]any
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body["confirmed"] != true || body["pain"] != "onboarding lento" {
		t.Errorf("body = %v", body)
	}
}

func TestProductContext_RequiresReason(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /products/p1/context": `{"next":"novo"}`,
	})
	useServer(t, ts)

	err := runCommand(t, "product", "context", "p1", "--text", "novo", "--reason", "")
	if err == nil || !strings.Contains(err.Error(), "--reason") {
		t.Errorf("err = %v, want missing reason", err)
	}
	if len(ts.requests) != 0 {
		t.Errorf("request sent without reason")
	}
}

func TestRulesCheck_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	yaml := "veredicts:\n  - code: REACTIVE_BEHAVIOR\n    priority: 5\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runCommand(t, "rules", "check", path); err != nil {
		t.Fatalf("rules check: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("veredicts: [unclosed"), 0o644)
	if err := runCommand(t, "rules", "check", bad); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.OpenRouter.APIKey = "sk-secret"

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "4100" {
			found = true
		}
		if strings.Contains(k.Value, "sk-secret") {
			t.Errorf("ShowAll leaked secret in %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4100 in ShowAll output")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"curto", 10, "curto"},
		{"ativação", 4, "ativ..."},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
