// Package facts gathers short grounding text for a topic from the web. It
// searches DuckDuckGo's HTML endpoint, scrapes the top result pages, scores
// them for relevance and summarizes the best few. Failures never leave the
// package: the caller just gets an empty string.
package facts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/pkg/contracts"
)

const maxBodyBytes = 2 << 20

// WebProvider implements contracts.FactProvider over DuckDuckGo search.
type WebProvider struct {
	cfg    config.FactsConfig
	client *http.Client
}

var _ contracts.FactProvider = (*WebProvider)(nil)

// NewWebProvider builds a provider. Zero-valued settings take the usual
// defaults.
func NewWebProvider(cfg config.FactsConfig) *WebProvider {
	if cfg.SearchURL == "" {
		cfg.SearchURL = "https://html.duckduckgo.com/html/"
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if cfg.SummarizeTop <= 0 {
		cfg.SummarizeTop = 3
	}
	if cfg.MinParagraphLength <= 0 {
		cfg.MinParagraphLength = 50
	}
	if cfg.MaxParagraphs <= 0 {
		cfg.MaxParagraphs = 5
	}
	if cfg.MaxSummaryLength <= 0 {
		cfg.MaxSummaryLength = 500
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (PostGen/1.0)"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &WebProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type page struct {
	url        string
	title      string
	paragraphs []string
	score      int
}

// FetchFacts returns the combined summaries of the best-scoring pages, or ""
// when nothing usable was found.
func (p *WebProvider) FetchFacts(ctx context.Context, topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ""
	}

	links, err := p.searchLinks(ctx, topic)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Fact search failed")
		return ""
	}
	if len(links) == 0 {
		log.Debug().Str("topic", topic).Msg("Fact search returned no links")
		return ""
	}

	pages := make([]*page, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, link := range links {
		g.Go(func() error {
			pg, err := p.fetchPage(gctx, link)
			if err != nil {
				log.Debug().Err(err).Str("url", link).Msg("Fact page skipped")
				return nil
			}
			pages[i] = pg
			return nil
		})
	}
	_ = g.Wait()

	var scored []*page
	for _, pg := range pages {
		if pg == nil || len(pg.paragraphs) == 0 {
			continue
		}
		pg.score = scorePage(pg.title, pg.paragraphs, topic)
		scored = append(scored, pg)
	}
	if len(scored) == 0 {
		return ""
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > p.cfg.SummarizeTop {
		scored = scored[:p.cfg.SummarizeTop]
	}

	summaries := make([]string, 0, len(scored))
	for _, pg := range scored {
		summaries = append(summaries, p.summarize(pg.paragraphs))
	}
	combined := strings.Join(summaries, " ")

	log.Debug().Str("topic", topic).Int("pages", len(scored)).Int("chars", len(combined)).Msg("Facts gathered")
	return combined
}

// ── Search ──────────────────────────────────────────────────

func (p *WebProvider) searchLinks(ctx context.Context, query string) ([]string, error) {
	u, err := url.Parse(p.cfg.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	doc, err := p.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var links []string
	doc.Find("a.result__a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if href, ok := s.Attr("href"); ok {
			if clean := cleanDuckLink(href); clean != "" {
				links = append(links, clean)
			}
		}
		return len(links) < p.cfg.SearchLimit
	})
	return links, nil
}

// cleanDuckLink unwraps DuckDuckGo's redirect links (/l/?uddg=<target>).
func cleanDuckLink(raw string) string {
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return raw
}

// ── Pages ───────────────────────────────────────────────────

func (p *WebProvider) fetchPage(ctx context.Context, link string) (*page, error) {
	doc, err := p.get(ctx, link)
	if err != nil {
		return nil, err
	}
	pg := &page{url: link, title: strings.TrimSpace(doc.Find("title").First().Text())}
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		t := strings.Join(strings.Fields(s.Text()), " ")
		if len(t) > p.cfg.MinParagraphLength {
			pg.paragraphs = append(pg.paragraphs, t)
		}
	})
	return pg, nil
}

func (p *WebProvider) get(ctx context.Context, link string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: status %d", link, resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
}

// ── Scoring ─────────────────────────────────────────────────

// scorePage: +3 when the title mentions the topic, +1 per topic occurrence
// in the text (max 5), +2 for more than 500 characters and +1 more past 1000.
func scorePage(title string, paragraphs []string, topic string) int {
	topic = strings.ToLower(topic)
	score := 0
	if strings.Contains(strings.ToLower(title), topic) {
		score += 3
	}
	text := strings.Join(paragraphs, " ")
	score += min(strings.Count(strings.ToLower(text), topic), 5)
	if len(text) > 500 {
		score += 2
	}
	if len(text) > 1000 {
		score++
	}
	return score
}

func (p *WebProvider) summarize(paragraphs []string) string {
	if len(paragraphs) > p.cfg.MaxParagraphs {
		paragraphs = paragraphs[:p.cfg.MaxParagraphs]
	}
	content := strings.Join(paragraphs, " ")
	if len(content) > p.cfg.MaxSummaryLength {
		return truncateRunes(content, p.cfg.MaxSummaryLength) + "..."
	}
	return content
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
