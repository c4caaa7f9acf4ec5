package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/pachai/internal/domain"
)

const fixture = `<html><body>
<div class="results">
  <div class="result results_links results_links_deep web-result">
    <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fonboarding&amp;rut=abc">Onboarding <b>B2B</b></a></h2>
    <a class="result__url" href="https://example.com/onboarding">example.com</a>
    <a class="result__snippet" href="https://example.com/onboarding">Como reduzir o tempo de ativação.</a>
  </div>
  <div class="result results_links web-result">
    <h2><a class="result__a" href="https://blog.test/churn">Churn em SaaS</a></h2>
    <a class="result__snippet" href="https://blog.test/churn">Métricas de retenção.</a>
  </div>
  <div class="result results_links web-result">
    <h2><a class="result__a" href="https://third.test/">Terceiro</a></h2>
  </div>
</div>
</body></html>`

func TestDuckDuckGo_ParsesResults(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(fixture))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL, 2)
	got := d.Search(context.Background(), "onboarding b2b")

	if gotQuery != "onboarding b2b" {
		t.Errorf("query = %q, want %q", gotQuery, "onboarding b2b")
	}
	want := []Result{
		{Title: "Onboarding B2B", Snippet: "Como reduzir o tempo de ativação.", Source: "example.com", URL: "https://example.com/onboarding"},
		{Title: "Churn em SaaS", Snippet: "Métricas de retenção.", Source: "blog.test", URL: "https://blog.test/churn"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestDuckDuckGo_FailureYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	got := NewDuckDuckGo(srv.URL, 5).Search(context.Background(), "qualquer")
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

type stubCapability struct {
	calls   int
	results []Result
}

func (s *stubCapability) Search(ctx context.Context, query string) []Result {
	s.calls++
	return s.results
}

func TestConfirm_RequiresUserConfirmation(t *testing.T) {
	cap := &stubCapability{}
	_, err := Confirm(context.Background(), cap, Confirmation{ConversationID: "c1", Query: "churn"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if cap.calls != 0 {
		t.Errorf("capability called %d times, want 0", cap.calls)
	}
}

func TestConfirm_BuildsConfirmedContext(t *testing.T) {
	cap := &stubCapability{}
	sc, err := Confirm(context.Background(), cap, Confirmation{ConversationID: "c1", Query: "  churn  ", UserConfirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sc.Confirmed() || sc.ConversationID() != "c1" {
		t.Errorf("context = %+v, want confirmed for c1", sc)
	}
	if sc.Query != "churn" {
		t.Errorf("Query = %q, want trimmed", sc.Query)
	}
	if sc.Results == nil {
		t.Error("Results is nil, want empty slice")
	}
	if sc.ExecutedAt.IsZero() {
		t.Error("ExecutedAt not set")
	}
}

func TestContext_LiteralIsUnconfirmed(t *testing.T) {
	sc := &Context{Query: "forjado"}
	if sc.Confirmed() {
		t.Error("literal Context must not be confirmed")
	}
	var nilCtx *Context
	if nilCtx.Confirmed() || nilCtx.ConversationID() != "" {
		t.Error("nil Context must be unconfirmed")
	}
}
