package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"talentlink/internal/config"
	"talentlink/internal/domain"
	"talentlink/internal/mail"
	"talentlink/internal/repo"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification dispatcher closed")
)

// Dispatcher writes in-app notifications and delivers their emails on a bounded pool of
// workers. Build it with New, then Start it; Close drains whatever is still queued.
type Dispatcher struct {
	repo   repo.Repo
	mailer mail.Mailer
	cfg    config.NotificationsConfig
	logger *slog.Logger

	// Now is the clock used for created_at; tests pin it.
	Now func() time.Time

	mu      sync.Mutex
	queue   chan job
	closed  bool
	started bool
	cancel  context.CancelFunc
	group   errgroup.Group

	dropped  atomic.Int64
	rejected atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
	skipped  atomic.Int64
}

type job struct {
	event Event
	// notificationID is zero when the in-app row is still to be written by the worker.
	notificationID int64
}

// Stats are running counters since construction.
type Stats struct {
	Dropped  int64 `json:"dropped"`
	Rejected int64 `json:"rejected"`
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Skipped  int64 `json:"skipped"`
	Queued   int   `json:"queued"`
}

func New(cfg config.NotificationsConfig, r repo.Repo, m mail.Mailer, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Overflow == "" {
		cfg.Overflow = config.OverflowDropOldest
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = mail.LogMailer{Logger: logger}
	}
	return &Dispatcher{
		repo:   r,
		mailer: m,
		cfg:    cfg,
		logger: logger,
		Now:    time.Now,
		queue:  make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.group.Go(func() error {
			for j := range d.queue {
				d.process(ctx, j)
			}
			return nil
		})
	}
	d.logger.Info("notification workers started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize, "overflow", d.cfg.Overflow)
}

// Close stops accepting jobs and waits for the queue to drain. When ctx ends first the
// workers stop sending email but still write every queued in-app row, and ctx's error is
// returned once the queue is empty.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dropped:  d.dropped.Load(),
		Rejected: d.rejected.Load(),
		Sent:     d.sent.Load(),
		Failed:   d.failed.Load(),
		Skipped:  d.skipped.Load(),
		Queued:   len(d.queue),
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	var evicted []job
	err := func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return ErrClosed
		}
		for {
			select {
			case d.queue <- j:
				return nil
			default:
			}
			if d.cfg.Overflow == config.OverflowRejectNew {
				d.rejected.Add(1)
				return ErrQueueFull
			}
			select {
			case old := <-d.queue:
				d.dropped.Add(1)
				evicted = append(evicted, old)
			default:
			}
		}
	}()
	for _, old := range evicted {
		d.logger.Warn("notification queue full, dropped oldest job",
			"recipient", old.event.RecipientID, "type", old.event.Type, "notification_id", old.notificationID)
		if old.notificationID != 0 {
			d.recordEmail(ctx, old.notificationID, domain.EmailFailed, ErrQueueFull.Error())
		}
	}
	if errors.Is(err, ErrQueueFull) {
		d.logger.Warn("notification queue full, rejected job", "recipient", j.event.RecipientID, "type", j.event.Type)
	}
	return err
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	if j.notificationID == 0 {
		n, err := d.insert(context.WithoutCancel(ctx), j.event)
		if err != nil {
			d.logger.Error("write notification failed", "recipient", j.event.RecipientID, "type", j.event.Type, "err", err)
			return
		}
		if j.event.Email == "" {
			return
		}
		j.notificationID = n.ID
	}
	d.deliver(ctx, j)
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	if ctx.Err() != nil {
		d.recordEmail(ctx, j.notificationID, domain.EmailFailed, "dispatcher stopped before delivery")
		return
	}
	user, err := d.repo.GetUser(ctx, j.event.RecipientID)
	if err != nil {
		d.logger.Error("load notification recipient failed", "recipient", j.event.RecipientID, "err", err)
		d.recordEmail(ctx, j.notificationID, domain.EmailFailed, err.Error())
		return
	}
	if !mail.ValidAddress(user.Email) {
		d.logger.Debug("recipient has no valid email, skipping", "recipient", user.ID, "type", j.event.Type)
		d.recordEmail(ctx, j.notificationID, domain.EmailSkipped, "no valid email address")
		return
	}
	subject, body, err := mail.Render(j.event.Email, j.event.EmailData)
	if err != nil {
		d.logger.Error("render email failed", "template", j.event.Email, "err", err)
		d.recordEmail(ctx, j.notificationID, domain.EmailFailed, err.Error())
		return
	}
	if err := d.mailer.Send(ctx, mail.Message{To: user.Email, Subject: subject, HTML: body}); err != nil {
		derr := domain.DeliveryError{Channel: "email", Recipient: user.Email, Err: err}
		d.logger.Warn("email delivery failed", "recipient", user.ID, "type", j.event.Type, "err", derr)
		d.recordEmail(ctx, j.notificationID, domain.EmailFailed, derr.Error())
		return
	}
	d.recordEmail(ctx, j.notificationID, domain.EmailSent, "")
}

func (d *Dispatcher) recordEmail(ctx context.Context, id int64, status, errMsg string) {
	switch status {
	case domain.EmailSent:
		d.sent.Add(1)
	case domain.EmailFailed:
		d.failed.Add(1)
	case domain.EmailSkipped:
		d.skipped.Add(1)
	}
	if err := d.repo.SetNotificationEmailStatus(context.WithoutCancel(ctx), id, status, errMsg); err != nil {
		d.logger.Error("record email status failed", "notification_id", id, "err", err)
	}
}
