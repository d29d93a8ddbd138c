package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"linkhub/internal/events"
)

// Transport delivers events without blocking the caller. Delivery is best effort.
type Transport interface {
	Send(req events.TrackRequest)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(req events.TrackRequest)

func (f TransportFunc) Send(req events.TrackRequest) { f(req) }

const DefaultQueueSize = 256

// HTTPTransport posts events to the ingestion endpoint from one sender goroutine.
// A full queue drops the event; send failures are logged at debug level.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	headers  map[string]string

	queue   chan events.TrackRequest
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64
}

type TransportOption func(*HTTPTransport)

func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) { t.client = c }
}

func WithQueueSize(n int) TransportOption {
	return func(t *HTTPTransport) {
		if n > 0 {
			t.queue = make(chan events.TrackRequest, n)
		}
	}
}

// WithHeader adds a header to every request, e.g. a forwarded client IP.
func WithHeader(key, value string) TransportOption {
	return func(t *HTTPTransport) { t.headers[key] = value }
}

func NewHTTPTransport(endpoint string, logger *slog.Logger, opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
		headers:  map[string]string{},
		queue:    make(chan events.TrackRequest, DefaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run()
	return t
}

func (t *HTTPTransport) Send(req events.TrackRequest) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- req:
	default:
		t.dropped.Add(1)
		t.logger.Debug("Tracker queue full, dropping event", slog.String("event", req.Event))
	}
}

func (t *HTTPTransport) run() {
	defer close(t.done)
	for req := range t.queue {
		if err := t.post(req); err != nil {
			t.logger.Debug("Failed to deliver event", slog.String("event", req.Event), slog.Any("error", err))
			continue
		}
		t.sent.Add(1)
	}
}

func (t *HTTPTransport) post(req events.TrackRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ingestion answered %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be sent or ctx to end.
func (t *HTTPTransport) Close(ctx context.Context) error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.queue)
		t.mu.Unlock()
	})
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns how many events were delivered and dropped.
func (t *HTTPTransport) Stats() (sent, dropped int64) {
	return t.sent.Load(), t.dropped.Load()
}
