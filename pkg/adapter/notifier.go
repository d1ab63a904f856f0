package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/utils/logging"
)

// Notifier posts best-effort progress events to an external observer.
// Post must never block the caller and never report failures.
type Notifier interface {
	Post(ctx context.Context, event string, payload any)
}

const (
	EventPerspectiveUpdate   = "perspective-update"
	EventPerspectiveComplete = "perspective-complete"
)

type notification struct {
	ctx     context.Context
	event   string
	payload any
}

// WebhookNotifier sends events as JSON POST requests to <baseURL>/api/<event> from a single
// background worker fed by a bounded queue. Events are dropped when the queue is full.
type WebhookNotifier struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	closed bool
	queue  chan notification
	wg     sync.WaitGroup
}

type WebhookOption func(*WebhookNotifier)

// WithWebhookTimeout sets the timeout of a single delivery
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		n.client.Timeout = d
	}
}

// WithWebhookQueueSize sets how many undelivered events may be buffered
func WithWebhookQueueSize(size int) WebhookOption {
	return func(n *WebhookNotifier) {
		n.queue = make(chan notification, size)
	}
}

func NewWebhookNotifier(baseURL string, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Second},
		queue:   make(chan notification, 64),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.wg.Add(1)
	go n.run()

	return n
}

func (n *WebhookNotifier) Post(ctx context.Context, event string, payload any) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}

	select {
	case n.queue <- notification{ctx: context.WithoutCancel(ctx), event: event, payload: payload}:
	default:
		logging.From(ctx).Warn("notification queue is full, dropping event", "event", event)
	}
}

// Close stops accepting events and waits until queued events are delivered or dropped
func (n *WebhookNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *WebhookNotifier) run() {
	defer n.wg.Done()

	for item := range n.queue {
		if err := n.send(item); err != nil {
			logging.From(item.ctx).Warn("failed to notify observer", "event", item.event, "error", err)
		}
	}
}

func (n *WebhookNotifier) send(item notification) error {
	target, err := url.JoinPath(n.baseURL, "api", item.event)
	if err != nil {
		return goerr.Wrap(err, "failed to build notification url", goerr.V("base_url", n.baseURL))
	}

	body, err := json.Marshal(item.payload)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal notification payload")
	}

	req, err := http.NewRequestWithContext(item.ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to create notification request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to post notification", goerr.V("url", target))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return goerr.New("observer returned error status", goerr.V("url", target), goerr.V("status", resp.StatusCode))
	}

	logging.From(item.ctx).Debug("notified observer", "event", item.event, "url", target)
	return nil
}

type nopNotifier struct{}

// NewNopNotifier returns a Notifier that discards every event
func NewNopNotifier() Notifier {
	return nopNotifier{}
}

func (nopNotifier) Post(context.Context, string, any) {}
