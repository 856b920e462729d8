package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"talentlink/internal/audit"
	"talentlink/internal/config"
	"talentlink/internal/domain"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100

	webhookEventType = "contract.status_changed"
)

// HistoryForwarder posts contract status history rows to configured webhooks.
// Each hook keeps its own cursor and starts from the newest row present when it is
// first polled, so a restart does not replay old history.
type HistoryForwarder struct {
	History  audit.Writer
	Hooks    []config.WebhookConfig
	Interval time.Duration
	Client   *http.Client
	Logger   *slog.Logger

	mu      sync.Mutex
	cursors map[int]int64
}

func NewHistoryForwarder(history audit.Writer, hooks []config.WebhookConfig, logger *slog.Logger) *HistoryForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryForwarder{
		History:  history,
		Hooks:    hooks,
		Interval: defaultWebhookInterval,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		Logger:   logger,
		cursors:  make(map[int]int64),
	}
}

// Enabled reports whether any hook would receive deliveries.
func (f *HistoryForwarder) Enabled() bool {
	for _, hook := range f.Hooks {
		if hookEnabled(hook) {
			return true
		}
	}
	return false
}

// Run polls until ctx is done.
func (f *HistoryForwarder) Run(ctx context.Context) error {
	interval := f.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		f.Poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll delivers pending history to every enabled hook once. Hooks are served
// concurrently; a failing hook keeps its cursor and is retried on the next poll.
func (f *HistoryForwarder) Poll(ctx context.Context) {
	var g errgroup.Group
	for i, hook := range f.Hooks {
		if !hookEnabled(hook) {
			continue
		}
		g.Go(func() error {
			if err := f.deliver(ctx, i, hook); err != nil {
				f.logger().Warn("webhook delivery failed", "url", hook.URL, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func hookEnabled(hook config.WebhookConfig) bool {
	if hook.Enabled != nil && !*hook.Enabled {
		return false
	}
	return strings.TrimSpace(hook.URL) != ""
}

func (f *HistoryForwarder) deliver(ctx context.Context, idx int, hook config.WebhookConfig) error {
	cursor, err := f.cursorFor(ctx, idx)
	if err != nil {
		return fmt.Errorf("init cursor: %w", err)
	}
	entries, err := f.History.After(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	filter := newStatusFilter(hook.Statuses)
	for _, entry := range entries {
		if filter.match(entry.NewStatus) {
			if err := f.post(ctx, hook, entry); err != nil {
				return err
			}
		}
		f.setCursor(idx, entry.ID)
	}
	return nil
}

func (f *HistoryForwarder) cursorFor(ctx context.Context, idx int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursors == nil {
		f.cursors = make(map[int]int64)
	}
	if cur, ok := f.cursors[idx]; ok {
		return cur, nil
	}
	cur, err := f.History.LatestID(ctx)
	if err != nil {
		return 0, err
	}
	f.cursors[idx] = cur
	return cur, nil
}

func (f *HistoryForwarder) setCursor(idx int, value int64) {
	f.mu.Lock()
	f.cursors[idx] = value
	f.mu.Unlock()
}

type webhookPayload struct {
	Event string                      `json:"event"`
	Entry domain.ContractStatusChange `json:"entry"`
}

func (f *HistoryForwarder) post(ctx context.Context, hook config.WebhookConfig, entry domain.ContractStatusChange) error {
	data, err := json.Marshal(webhookPayload{Event: webhookEventType, Entry: entry})
	if err != nil {
		return err
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Talentlink-Event", webhookEventType)
	req.Header.Set("X-Talentlink-Delivery", strconv.FormatInt(entry.ID, 10))
	req.Header.Set("X-Talentlink-Contract", entry.ContractID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Talentlink-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type statusFilter struct {
	all bool
	set map[string]struct{}
}

func newStatusFilter(statuses []string) statusFilter {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		if key := strings.TrimSpace(s); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return statusFilter{all: true}
	}
	return statusFilter{set: set}
}

func (f statusFilter) match(status string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[status]
	return ok
}

func (f *HistoryForwarder) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
