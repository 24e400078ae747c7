package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"indicator-pipeline/go/pkg/pipeline"
	"indicator-pipeline/go/pkg/shared"
)

// Batch is the body POSTed to the analytics webhook.
type Batch struct {
	Metadata BatchMetadata       `json:"metadata"`
	Data     []pipeline.Snapshot `json:"data"`
}

type BatchMetadata struct {
	BatchID     string `json:"batch_id"`
	GeneratedAt string `json:"generated_at"`
	DataPoints  int    `json:"data_points"`
}

// Webhook collects snapshots and POSTs them in batches, either when BatchSize
// is reached or every FlushInterval. Delivery is attempted once per batch.
type Webhook struct {
	cfg  shared.WebhookConfig
	http *http.Client
	log  shared.Logger
	now  func() time.Time

	mu      sync.Mutex
	pending []pipeline.Snapshot
	closed  bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewWebhook(cfg shared.WebhookConfig, log shared.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook sink: WEBHOOK_URL is empty")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	w := &Webhook{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
		now:  time.Now,
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Webhook) Accept(_ context.Context, s pipeline.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	// Bound memory while the endpoint is down.
	if len(w.pending) >= w.cfg.BatchSize*10 {
		return ErrFull
	}
	w.pending = append(w.pending, s)
	if len(w.pending) >= w.cfg.BatchSize {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close sends whatever is pending and stops the worker.
func (w *Webhook) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stop)
	<-w.done
	return nil
}

func (w *Webhook) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.kick:
			w.flush()
		case <-ticker.C:
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

func (w *Webhook) take() []pipeline.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := min(len(w.pending), w.cfg.BatchSize)
	if n == 0 {
		return nil
	}
	out := make([]pipeline.Snapshot, n)
	copy(out, w.pending[:n])
	w.pending = append(w.pending[:0], w.pending[n:]...)
	return out
}

func (w *Webhook) flush() {
	for {
		batch := w.take()
		if batch == nil {
			return
		}
		if err := w.post(batch); err != nil {
			w.log.Warnf("[sink/webhook] dropped batch of %d: %v", len(batch), err)
		}
	}
}

func (w *Webhook) post(data []pipeline.Snapshot) error {
	body, err := json.Marshal(Batch{
		Metadata: BatchMetadata{
			BatchID:     uuid.NewString(),
			GeneratedAt: w.now().UTC().Format(time.RFC3339Nano),
			DataPoints:  len(data),
		},
		Data: data,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
