package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestOllama_Complete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "olá"},
		})
	}))
	defer srv.Close()

	c := NewOllama(srv.URL)
	text, err := c.Complete(context.Background(), Request{
		Model:    "llama3.2",
		System:   "persona",
		Messages: []Message{{Role: RoleUser, Content: "oi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "olá" {
		t.Errorf("text = %q, want olá", text)
	}
	if got.Stream {
		t.Error("expected non-streaming request")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "persona" {
		t.Errorf("messages = %+v, want system prompt first", got.Messages)
	}
}

func TestOllama_CompleteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOllama(srv.URL).Complete(context.Background(), Request{Model: "x"}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestOllama_IsRunningAndHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "qwen2.5:7b"))
	}))
	defer srv.Close()

	c := NewOllama(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	if !c.HasModel(context.Background(), "llama3.2") {
		t.Error("HasModel(llama3.2) = false, want true via :latest")
	}
	if c.HasModel(context.Background(), "mistral") {
		t.Error("HasModel(mistral) = true, want false")
	}
}

func TestOllama_IsRunningDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if NewOllama(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestOllama_PullModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"downloading","total":100,"completed":50}` + "\n" + `{"status":"success"}` + "\n"))
	}))
	defer srv.Close()

	var statuses []string
	err := NewOllama(srv.URL).PullModel(context.Background(), "llama3.2", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(statuses) != 2 || statuses[1] != "success" {
		t.Errorf("statuses = %v", statuses)
	}
}
