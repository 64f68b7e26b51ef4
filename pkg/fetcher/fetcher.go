// Package fetcher downloads annotated publications from the PubTator3
// export API.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/pkg/batch"
	"github.com/xhad/pubgraph/pkg/bioc"
)

const DefaultBaseURL = "https://www.ncbi.nlm.nih.gov/research/pubtator3-api/publications/export/biocxml"

type FetcherConfig struct {
	BaseURL   string
	BatchSize int     // PMIDs per request
	RateLimit float64 // requests per second
	Timeout   time.Duration
	FullText  bool
	// OnProgress is called after each batch with the PMIDs it covered.
	OnProgress func(pmids []string)
}

// ServiceError reports a non-success response. It aborts the run.
type ServiceError struct {
	Status int
	PMIDs  []string
	Body   string
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("pubtator: status %d for %d pmids (%s..)", e.Status, len(e.PMIDs), first(e.PMIDs))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config FetcherConfig) (*Fetcher, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	return &Fetcher{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

func New() *Fetcher {
	f, _ := NewWithConfig(FetcherConfig{FullText: true})
	return f
}

// Fetch retrieves pmids one batch at a time. Requests are never concurrent;
// the first failed batch ends the fetch with what was retrieved so far.
func (f *Fetcher) Fetch(ctx context.Context, pmids []string) ([]models.Document, error) {
	var docs []models.Document
	for _, chunk := range batch.Split(pmids, f.config.BatchSize) {
		got, err := f.fetchBatch(ctx, chunk)
		if err != nil {
			return docs, err
		}
		docs = append(docs, got...)
		if f.config.OnProgress != nil {
			f.config.OnProgress(chunk)
		}
	}
	return docs, nil
}

func (f *Fetcher) requestURL(pmids []string) string {
	q := url.Values{}
	q.Set("pmids", strings.Join(pmids, ","))
	if f.config.FullText {
		q.Set("full", "true")
	}
	return f.config.BaseURL + "?" + q.Encode()
}

func (f *Fetcher) fetchBatch(ctx context.Context, pmids []string) ([]models.Document, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.requestURL(pmids), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ServiceError{Status: resp.StatusCode, PMIDs: pmids, Body: strings.TrimSpace(string(body))}
	}

	c, err := bioc.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode batch starting at %s: %w", first(pmids), err)
	}
	return c.Documents, nil
}
