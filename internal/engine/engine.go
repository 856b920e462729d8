package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"talentlink/internal/audit"
	"talentlink/internal/domain"
	"talentlink/internal/notify"
	"talentlink/internal/repo"
)

// Notifier receives the lifecycle notifications the engine emits after commit.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) (domain.Notification, error)
}

// Hooks run after a transition has committed. They never run for plain reads or for
// writes made outside the engine's own transition methods.
type Hooks struct {
	ContractCreated       func(ctx context.Context, c domain.Contract, actor domain.Actor)
	ContractStatusChanged func(ctx context.Context, c domain.Contract, change domain.ContractStatusChange)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Writer
	Notifier Notifier
	Hooks    Hooks
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, n Notifier, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Audit:    audit.Writer{DB: db, Now: time.Now},
		Notifier: n,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format(dateLayout)
}

func (e Engine) audit() audit.Writer {
	w := e.Audit
	if w.DB == nil {
		w.DB = e.DB
	}
	w.Now = e.now
	return w
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// notify hands an event to the dispatcher. Failures are logged and never reach the caller:
// the transition they describe has already committed.
func (e Engine) notify(ctx context.Context, ev notify.Event) {
	if e.Notifier == nil || ev.RecipientID == "" {
		return
	}
	if _, err := e.Notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		e.logger().Warn("notification not fully delivered", "recipient", ev.RecipientID, "type", ev.Type, "err", err)
	}
}

func (e Engine) displayName(ctx context.Context, userID string) string {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return userID
	}
	return u.Name()
}

func (e Engine) contractCreated(ctx context.Context, c domain.Contract, actor domain.Actor) {
	if e.Hooks.ContractCreated != nil {
		e.Hooks.ContractCreated(context.WithoutCancel(ctx), c, actor)
	}
}

func (e Engine) statusChanged(ctx context.Context, c domain.Contract, change domain.ContractStatusChange) {
	if e.Hooks.ContractStatusChanged != nil {
		e.Hooks.ContractStatusChanged(context.WithoutCancel(ctx), c, change)
	}
}
