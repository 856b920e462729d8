package chat

import (
	"context"
	"sync"
	"time"

	"talentlink/internal/config"
	"talentlink/internal/domain"
)

// FetchFunc loads the messages a poll is waiting for. An empty result means keep waiting.
type FetchFunc func(ctx context.Context) ([]domain.Message, error)

// Poller waits for new messages in a conversation. Wait returns as soon as fetch yields
// something, returns an empty slice once the wait bound passes, and returns ctx.Err()
// when the caller goes away. Wake tells waiters of a conversation to look again.
type Poller interface {
	Wait(ctx context.Context, conversationID string, fetch FetchFunc) ([]domain.Message, error)
	Wake(conversationID string)
}

// NewPoller builds the poller selected by cfg.PollMode.
func NewPoller(cfg config.ChatConfig) Poller {
	if cfg.PollMode == config.PollModeInterval {
		return &IntervalPoller{Interval: cfg.PollInterval, Timeout: cfg.PollTimeout}
	}
	return NewSignalPoller(cfg.PollInterval, cfg.PollTimeout)
}

const (
	defaultPollInterval = time.Second
	defaultPollTimeout  = 30 * time.Second
)

func bounds(interval, timeout time.Duration) (time.Duration, time.Duration) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	return interval, timeout
}

// IntervalPoller re-runs fetch every Interval until Timeout.
type IntervalPoller struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (p *IntervalPoller) Wait(ctx context.Context, _ string, fetch FetchFunc) ([]domain.Message, error) {
	interval, timeout := bounds(p.Interval, p.Timeout)
	return wait(ctx, interval, timeout, nil, fetch)
}

func (p *IntervalPoller) Wake(string) {}

// SignalPoller re-runs fetch as soon as Wake is called for the conversation, and every
// interval regardless, so a wake lost to another process only costs latency.
type SignalPoller struct {
	Interval time.Duration
	Timeout  time.Duration

	mu      sync.Mutex
	signals map[string]*wakeup
}

// wakeup is the channel waiters of one conversation park on. The entry lives only while
// waiters > 0.
type wakeup struct {
	ch      chan struct{}
	waiters int
}

func NewSignalPoller(interval, timeout time.Duration) *SignalPoller {
	return &SignalPoller{Interval: interval, Timeout: timeout, signals: map[string]*wakeup{}}
}

func (p *SignalPoller) join(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signals == nil {
		p.signals = map[string]*wakeup{}
	}
	w, ok := p.signals[conversationID]
	if !ok {
		w = &wakeup{ch: make(chan struct{})}
		p.signals[conversationID] = w
	}
	w.waiters++
}

func (p *SignalPoller) leave(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.signals[conversationID]
	if !ok {
		return
	}
	if w.waiters--; w.waiters <= 0 {
		delete(p.signals, conversationID)
	}
}

func (p *SignalPoller) subscribe(conversationID string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signals[conversationID].ch
}

// Wake releases every waiter currently parked on the conversation.
func (p *SignalPoller) Wake(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.signals[conversationID]; ok {
		close(w.ch)
		w.ch = make(chan struct{})
	}
}

func (p *SignalPoller) Wait(ctx context.Context, conversationID string, fetch FetchFunc) ([]domain.Message, error) {
	interval, timeout := bounds(p.Interval, p.Timeout)
	p.join(conversationID)
	defer p.leave(conversationID)
	return wait(ctx, interval, timeout, func() <-chan struct{} { return p.subscribe(conversationID) }, fetch)
}

// wait is the loop both pollers share. subscribe, when set, is called before every fetch
// so a wake between the fetch and the select is not missed.
func wait(ctx context.Context, interval, timeout time.Duration, subscribe func() <-chan struct{}, fetch FetchFunc) ([]domain.Message, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var woken <-chan struct{}
		if subscribe != nil {
			woken = subscribe()
		}
		msgs, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return []domain.Message{}, nil
		case <-ticker.C:
		case <-woken:
		}
	}
}
