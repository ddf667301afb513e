package facts_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/internal/facts"
)

const para = "Cold start strategies help marketplaces grow their first cohort of users quickly and sustainably."

// newSearchServer serves a DuckDuckGo-like results page linking to pages
// hosted on the same server.
func newSearchServer(t *testing.T, pages map[string]string) (*httptest.Server, *int32) {
	t.Helper()
	var searches int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&searches, 1)
		if r.URL.Query().Get("q") == "" {
			http.Error(w, "missing q", http.StatusBadRequest)
			return
		}
		var b strings.Builder
		b.WriteString("<html><body>")
		for path := range pages {
			target := url.QueryEscape(srv.URL + path)
			fmt.Fprintf(&b, `<a class="result__a" href="//duckduckgo.com/l/?uddg=%s">r</a>`, target)
		}
		b.WriteString("</body></html>")
		w.Write([]byte(b.String()))
	})
	for path, body := range pages {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if ua := r.Header.Get("User-Agent"); ua != "Mozilla/5.0 (PostGen/1.0)" {
				t.Errorf("User-Agent = %q", ua)
			}
			w.Write([]byte(body))
		})
	}
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &searches
}

func cfgFor(srv *httptest.Server) config.FactsConfig {
	return config.FactsConfig{SearchURL: srv.URL + "/html/", Timeout: 5 * time.Second}
}

func TestWebProvider_FetchFacts(t *testing.T) {
	pages := map[string]string{
		"/good": "<html><title>Cold start strategies guide</title><body><p>" + para + "</p><p>short</p></body></html>",
		"/none": "<html><title>Empty</title><body><p>tiny</p></body></html>",
	}
	srv, _ := newSearchServer(t, pages)
	p := facts.NewWebProvider(cfgFor(srv))

	got := p.FetchFacts(context.Background(), "cold start strategies")
	if got != para {
		t.Errorf("FetchFacts() = %q, want %q", got, para)
	}
}

func TestWebProvider_Summarizes(t *testing.T) {
	long := strings.Repeat(para+" ", 3)
	body := "<html><title>x</title><body>"
	for i := 0; i < 8; i++ {
		body += "<p>" + long + "</p>"
	}
	body += "</body></html>"
	srv, _ := newSearchServer(t, map[string]string{"/long": body})
	p := facts.NewWebProvider(cfgFor(srv))

	got := p.FetchFacts(context.Background(), "marketplaces")
	if !strings.HasSuffix(got, "...") {
		t.Errorf("FetchFacts() = %q, want truncated summary", got)
	}
	if len(got) != 503 {
		t.Errorf("len(FetchFacts()) = %d, want 503", len(got))
	}
}

func TestWebProvider_SearchFailureIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := facts.NewWebProvider(cfgFor(srv))
	if got := p.FetchFacts(context.Background(), "anything"); got != "" {
		t.Errorf("FetchFacts() = %q, want empty", got)
	}
}

func TestWebProvider_UnreachableIsEmpty(t *testing.T) {
	p := facts.NewWebProvider(config.FactsConfig{SearchURL: "http://127.0.0.1:1/html/", Timeout: time.Second})
	if got := p.FetchFacts(context.Background(), "anything"); got != "" {
		t.Errorf("FetchFacts() = %q, want empty", got)
	}
}

func TestCached(t *testing.T) {
	var calls int32
	next := countingProvider{calls: &calls, answer: "facts"}
	c := facts.NewCached(next, 10, time.Minute)
	ctx := context.Background()

	c.FetchFacts(ctx, "Remote Work")
	c.FetchFacts(ctx, "  remote   work ")
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("underlying calls = %d, want 1 (normalized cache hit)", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCached_SkipsEmpty(t *testing.T) {
	var calls int32
	c := facts.NewCached(countingProvider{calls: &calls}, 10, time.Minute)
	ctx := context.Background()

	c.FetchFacts(ctx, "topic")
	c.FetchFacts(ctx, "topic")
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("underlying calls = %d, want 2 (empty results not cached)", n)
	}
}

func TestDisabled(t *testing.T) {
	if got := facts.Disabled.FetchFacts(context.Background(), "x"); got != "" {
		t.Errorf("Disabled.FetchFacts() = %q, want empty", got)
	}
}

type countingProvider struct {
	calls  *int32
	answer string
}

func (c countingProvider) FetchFacts(context.Context, string) string {
	atomic.AddInt32(c.calls, 1)
	return c.answer
}
