package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-titles/config"
)

// Response is a successful fetch.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Result pairs a batch member with its outcome.
type Result struct {
	URL      string
	Response *Response
	Err      error
}

// FetchStats summarises fetcher activity for a run.
type FetchStats struct {
	Requests     int64
	Errors       int64
	PeakInFlight int64
	ErrorsByType map[string]int
}

// Fetcher issues GET requests through a bounded pool of slots. Every request
// holds one slot for its whole lifetime; the slot is released on every exit path.
type Fetcher struct {
	collector *colly.Collector
	slots     *semaphore.Weighted
	limiter   *rate.Limiter
	Metrics   *Metrics

	requestCount int64
	errorCount   int64
	inFlight     int64
	peakInFlight int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config) (*Fetcher, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Concurrency,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
	}); err != nil {
		return nil, fmt.Errorf("configure parallelism: %w", err)
	}

	f := &Fetcher{
		collector:    collector,
		slots:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		Metrics:      NewMetrics(),
		errorsByType: make(map[string]int),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return f, nil
}

// WithTransport replaces the HTTP transport shared by every request.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch retrieves url. Only status 200 is a success; anything else is a
// *NetworkError. ctx bounds the wait for a slot, not the request itself, which
// ends on its own timeout.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.slots.Release(1)

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	f.enter()
	defer f.leave()

	atomic.AddInt64(&f.requestCount, 1)
	f.Metrics.IncRequest("started")

	var (
		resp     *Response
		status   int
		fetchErr error
	)
	c := f.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		resp = &Response{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        r.Body,
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			status = r.StatusCode
		}
	})

	start := time.Now()
	if err := c.Visit(url); err != nil && fetchErr == nil {
		fetchErr = err
	}
	elapsed := time.Since(start)
	f.Metrics.ObserveDuration(elapsed)

	if fetchErr == nil && status == http.StatusOK && resp != nil {
		resp.Duration = elapsed
		f.Metrics.IncRequest("succeeded")
		slog.Debug("fetch ok",
			slog.String("url", url),
			slog.Int("status", status),
			slog.Int("bytes", len(resp.Body)),
			slog.Duration("duration", elapsed),
		)
		return resp, nil
	}

	netErr := &NetworkError{URL: url, Status: status, Err: classifyError(fetchErr, status)}
	f.recordError(netErr)
	return nil, netErr
}

// FetchAll fetches urls as one bounded batch and waits for every member. A
// failing member never cancels the others.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			resp, err := f.Fetch(ctx, u)
			results[i] = Result{URL: u, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stats returns a snapshot of counters accumulated since construction.
func (f *Fetcher) Stats() FetchStats {
	f.mu.Lock()
	byType := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		byType[k] = v
	}
	f.mu.Unlock()

	return FetchStats{
		Requests:     atomic.LoadInt64(&f.requestCount),
		Errors:       atomic.LoadInt64(&f.errorCount),
		PeakInFlight: atomic.LoadInt64(&f.peakInFlight),
		ErrorsByType: byType,
	}
}

func (f *Fetcher) enter() {
	current := atomic.AddInt64(&f.inFlight, 1)
	for {
		peak := atomic.LoadInt64(&f.peakInFlight)
		if current <= peak || atomic.CompareAndSwapInt64(&f.peakInFlight, peak, current) {
			break
		}
	}
	f.Metrics.AddInFlight(1)
}

func (f *Fetcher) leave() {
	atomic.AddInt64(&f.inFlight, -1)
	f.Metrics.AddInFlight(-1)
}

func (f *Fetcher) recordError(err *NetworkError) {
	atomic.AddInt64(&f.errorCount, 1)
	category := err.Category()

	f.mu.Lock()
	f.errorsByType[category]++
	f.mu.Unlock()

	f.Metrics.IncError(category)
	slog.Warn("fetch failed",
		slog.String("url", err.URL),
		slog.Int("status", err.Status),
		slog.String("category", category),
		slog.Any("error", err.Err),
	)
}

func classifyError(err error, statusCode int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 && statusCode != http.StatusOK {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		default:
			return ErrHTTPStatus{Err: wrapped}
		}
	}

	if err == nil {
		return errors.New("empty response")
	}
	return err
}

// Jitter picks a uniformly random duration in [lo, hi].
func Jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Pause sleeps for a politeness delay in [lo, hi]. It returns early with
// ctx.Err() when ctx ends first.
func Pause(ctx context.Context, lo, hi time.Duration) error {
	d := Jitter(lo, hi)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
