// Package alerts delivers best-effort operator notifications. Delivery is
// asynchronous and failures are logged, never propagated; the sentinels must
// keep running whether or not anyone is listening.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	queueSize    = 256
	maxAttempts  = 3
	workerCount  = 2
	postTimeout  = 10 * time.Second
)

// Notification is the JSON body POSTed to the alert endpoint.
type Notification struct {
	ID        string                 `json:"id"`
	Subject   string                 `json:"subject"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

type deliveryJob struct {
	notification *Notification
	attempt      int
}

// WebhookNotifier POSTs notifications to a configured URL through a small
// background worker pool. A full queue drops the notification rather than
// blocking the caller.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	queue      chan *deliveryJob
	done       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once

	// mu guards closed, which fences retry re-enqueues off the queue once
	// Shutdown has closed it.
	mu     sync.Mutex
	closed bool
}

// NewWebhookNotifier creates a notifier. An empty URL yields a notifier that
// silently discards everything, so callers never need a nil check.
func NewWebhookNotifier(url string) *WebhookNotifier {
	n := &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: postTimeout},
		queue:      make(chan *deliveryJob, queueSize),
		done:       make(chan struct{}),
	}
	if url != "" {
		for i := 0; i < workerCount; i++ {
			n.wg.Add(1)
			go n.worker()
		}
	}
	return n
}

// Notify queues a notification for delivery.
func (n *WebhookNotifier) Notify(_ context.Context, subject string, payload map[string]interface{}) {
	if n.url == "" {
		return
	}
	job := &deliveryJob{
		notification: &Notification{
			ID:        uuid.New().String(),
			Subject:   subject,
			Timestamp: time.Now().UTC(),
			Payload:   payload,
		},
		attempt: 1,
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- job:
	default:
		slog.Warn("Alert queue full, dropping notification", "subject", subject)
	}
}

// Shutdown stops the workers after draining the queue. Retries still waiting
// out their backoff are abandoned rather than re-queued.
func (n *WebhookNotifier) Shutdown() {
	n.closeOnce.Do(func() {
		close(n.done)
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
	})
	n.wg.Wait()
}

func (n *WebhookNotifier) worker() {
	defer n.wg.Done()
	for job := range n.queue {
		n.deliver(job)
	}
}

func (n *WebhookNotifier) deliver(job *deliveryJob) {
	body, err := json.Marshal(job.notification)
	if err != nil {
		slog.Error("Failed to marshal alert", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		slog.Error("Failed to build alert request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Riskcore-Alert-ID", job.notification.ID)
	req.Header.Set("X-Riskcore-Delivery-Attempt", fmt.Sprintf("%d", job.attempt))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		slog.Warn("Alert delivery failed", "url", n.url, "attempt", job.attempt, "error", err)
		n.maybeRetry(job)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("Alert endpoint returned error",
			"url", n.url, "status", resp.StatusCode, "attempt", job.attempt)
		n.maybeRetry(job)
		return
	}
	slog.Debug("Alert delivered", "id", job.notification.ID, "subject", job.notification.Subject)
}

func (n *WebhookNotifier) maybeRetry(job *deliveryJob) {
	if job.attempt >= maxAttempts {
		return
	}
	select {
	case <-n.done:
		return
	case <-time.After(time.Duration(job.attempt*job.attempt) * time.Second):
	}
	job.attempt++

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- job:
	default:
	}
}
