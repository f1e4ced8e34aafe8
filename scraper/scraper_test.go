package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/metrics"
	"github.com/mateNemeth/kona2.0/pacing"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testSourceConfig() config.SourceConfig {
	cfg := config.DefaultConfig().Source
	cfg.BaseURL = "http://example.test"
	cfg.ListingPath = "/lst/?sort=age"
	cfg.Timeout = 2 * time.Second
	return cfg
}

func newTestFetcher(t *testing.T, transport http.RoundTripper) (*Fetcher, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	f, err := NewFetcher(testSourceConfig(), m, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.WithTransport(transport)
	return f, m
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "gone", err: nil, statusCode: http.StatusGone, expected: "gone"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetcherHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status       int
		expected     string
		wantTerminal bool
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found", wantTerminal: true},
		{status: http.StatusGone, expected: "gone", wantTerminal: true},
		{status: http.StatusInternalServerError, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			const detailURL = "http://example.test/ajanlat/some-car"
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", detailURL, httpmock.NewStringResponder(tt.status, ""))

			f, m := newTestFetcher(t, transport)
			body, err := f.Get(context.Background(), "detail", detailURL)
			if err == nil {
				t.Fatalf("expected error, got body %q", body)
			}
			if got := ErrorTypeLabel(err); got != tt.expected {
				t.Fatalf("error type = %q, want %q (err=%v)", got, tt.expected, err)
			}
			if got := pacing.IsTerminal(err); got != tt.wantTerminal {
				t.Fatalf("terminal = %v, want %v", got, tt.wantTerminal)
			}
			if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(tt.expected)); got != 1 {
				t.Fatalf("errors metric = %v, want 1", got)
			}
		})
	}
}

func TestFetcherReturnsBody(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/ajanlat/a", htmlResponder("<html><body>ok</body></html>"))

	f, m := newTestFetcher(t, transport)
	for i := 0; i < 2; i++ {
		body, err := f.Get(context.Background(), "detail", "http://example.test/ajanlat/a")
		if err != nil {
			t.Fatalf("get #%d: %v", i, err)
		}
		if string(body) != "<html><body>ok</body></html>" {
			t.Fatalf("body = %q", body)
		}
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("detail")); got != 2 {
		t.Fatalf("requests = %v, want 2 (revisits must be allowed)", got)
	}
}

func TestFetcherCanceledContext(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/ajanlat/a", htmlResponder("<html></html>"))

	f, _ := newTestFetcher(t, transport)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Get(ctx, "detail", "http://example.test/ajanlat/a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("canceled fetch reached the transport")
	}
}

func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		resp.Request = req
		return resp, nil
	}
}
