package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/governance"
	"github.com/kalambet/pachai/internal/state"
	"github.com/kalambet/pachai/internal/storage"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return MCPDeps{Governance: newTestGovernance(t, store)}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPTool_CheckPrompt(t *testing.T) {
	handler := mcpCheckPrompt(newTestMCPDeps(t))

	result, err := handler(context.Background(), makeCallToolRequest("check_prompt", map[string]interface{}{
		"prompt":            "Explore alternativas. Mas e se o cliente for outro?",
		"last_user_message": "fechado, é isso",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var res governance.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Allowed {
		t.Fatal("closing user with reopening prompt must be blocked")
	}
	var codes []string
	for _, v := range res.Violations {
		codes = append(codes, v.VeredictCode)
	}
	if !strings.Contains(strings.Join(codes, ","), governance.CodeClosureRecognition) {
		t.Errorf("violations = %v, want %s", codes, governance.CodeClosureRecognition)
	}
	if !strings.Contains(res.InjectedPromptSection, "Veredictos Fundacionais") {
		t.Errorf("injected section missing header: %q", res.InjectedPromptSection)
	}
}

func TestMCPTool_CheckPrompt_MissingPrompt(t *testing.T) {
	handler := mcpCheckPrompt(newTestMCPDeps(t))
	result, err := handler(context.Background(), makeCallToolRequest("check_prompt", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing prompt")
	}
}

func TestMCPTool_CheckResponse_Advisory(t *testing.T) {
	handler := mcpCheckResponse(newTestMCPDeps(t))
	result, err := handler(context.Background(), makeCallToolRequest("check_response", map[string]interface{}{
		"response":          "Mas e se tentarmos outro segmento?",
		"last_user_message": "é isso, está decidido",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res governance.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !res.Allowed || res.Modified != nil {
		t.Errorf("post_response must stay advisory: %+v", res)
	}
	if len(res.Violations) != 1 || res.Violations[0].WasBlocked {
		t.Errorf("violations = %+v, want one non-blocking", res.Violations)
	}
}

func TestMCPTool_InferState(t *testing.T) {
	handler := mcpInferState()
	result, err := handler(context.Background(), makeCallToolRequest("infer_state", map[string]interface{}{
		"messages": `[{"role":"user","content":"quero entender o onboarding"}]`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got state.Tendency
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding tendency: %v", err)
	}
	if got.Primary != domain.StateExploration {
		t.Errorf("Primary = %q, want exploration", got.Primary)
	}
}

func TestMCPTool_InferState_InvalidJSON(t *testing.T) {
	handler := mcpInferState()
	for _, raw := range []string{`not json`, `[{"role":"system","content":"x"}]`} {
		result, err := handler(context.Background(), makeCallToolRequest("infer_state", map[string]interface{}{"messages": raw}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("messages %q: expected tool error", raw)
		}
	}
}

func TestMCPTool_DetectSignals(t *testing.T) {
	handler := mcpDetectSignals()
	result, err := handler(context.Background(), makeCallToolRequest("detect_signals", map[string]interface{}{
		"message":  "vamos pausar por hoje",
		"messages": `[{"role":"assistant","content":"Qual a principal dor?"}]`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var got signalReport
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if !got.ShouldPause || got.Closure || got.SearchIntent != nil {
		t.Errorf("report = %+v", got)
	}
}

func TestMCPTool_DetectSignals_SearchIntent(t *testing.T) {
	handler := mcpDetectSignals()
	result, err := handler(context.Background(), makeCallToolRequest("detect_signals", map[string]interface{}{
		"message": "pesquise sobre churn em saas b2b",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got signalReport
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if got.SearchIntent == nil || got.SearchIntent.Query != "churn em saas b2b" {
		t.Errorf("SearchIntent = %+v", got.SearchIntent)
	}
	if got.ShouldSuggestSearch {
		t.Error("explicit intent must not also suggest a search")
	}
}

func TestMCPResource_Rules(t *testing.T) {
	handler := mcpResourceRules(newTestMCPDeps(t))
	contents, err := handler(context.Background(), makeReadResourceRequest("governance://rules"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var rules []governance.FoundationalVeredict
	if err := json.Unmarshal([]byte(tc.Text), &rules); err != nil {
		t.Fatalf("decoding rules: %v", err)
	}
	if len(rules) == 0 {
		t.Error("no rules in resource")
	}
	if tc.URI != "governance://rules" {
		t.Errorf("URI = %q", tc.URI)
	}
}

func TestNewMCPServer_Registers(t *testing.T) {
	s := NewMCPServer(newTestMCPDeps(t), "test")
	if s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
