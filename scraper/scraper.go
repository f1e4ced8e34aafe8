package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/metrics"
)

// Fetcher issues single GET requests against the listing source. Each call
// runs on a clone of one configured collector so callbacks never leak
// between requests while transport, limits and timeouts stay shared.
type Fetcher struct {
	collector *colly.Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg config.SourceConfig, m *metrics.Metrics, logger *slog.Logger) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Fetcher{
		collector: collector,
		metrics:   m,
		logger:    logger,
	}, nil
}

// WithTransport replaces the HTTP transport of every subsequent request.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Get fetches rawURL and returns the response body. Failures are classified
// into the error types of this package; phase labels the request in metrics.
func (f *Fetcher) Get(ctx context.Context, phase, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := f.collector.Clone()
	var (
		body     []byte
		status   int
		fetchErr error
		start    time.Time
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		start = time.Now()
		f.metrics.IncRequest(phase)
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
		f.metrics.ObserveDuration(phase, time.Since(start))
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	visitErr := c.Visit(rawURL)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr == nil && visitErr != nil {
		fetchErr = visitErr
	}
	if fetchErr != nil {
		classified := classifyError(fetchErr, status)
		category := ErrorTypeLabel(classified)
		f.metrics.IncError(category)
		f.logger.Debug("request error",
			slog.String("url", rawURL),
			slog.String("phase", phase),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", fetchErr),
		)
		return nil, classified
	}
	return body, nil
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

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

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusGone:
			return ErrGone{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
