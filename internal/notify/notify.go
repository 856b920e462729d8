// Package notify owns the notifications table: in-app rows, their best-effort emails,
// and the recipient's read flags.
package notify

import (
	"context"
	"errors"
	"time"

	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/mail"
)

// Notification types.
const (
	TypeProposalSubmitted     = "proposal_submitted"
	TypeProposalAccepted      = "proposal_accepted"
	TypeProposalRejected      = "proposal_rejected"
	TypeContractCreated       = "contract_created"
	TypeContractSigned        = "contract_signed"
	TypeContractActivated     = "contract_activated"
	TypeContractTerminated    = "contract_terminated"
	TypeContractCompleted     = "contract_completed"
	TypeContractStatusChanged = "contract_status_changed"
	TypeNewMessage            = "new_message"
	TypeReviewReceived        = "review_received"
)

// Event describes one notification for one recipient. Email is the template to send;
// leave it empty for in-app only.
type Event struct {
	RecipientID    string
	Type           string
	Title          string
	Message        string
	ProjectID      string
	ProposalID     string
	ContractID     string
	ConversationID string

	Email     mail.Template
	EmailData mail.Data
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (d *Dispatcher) insert(ctx context.Context, ev Event) (domain.Notification, error) {
	if ev.RecipientID == "" {
		return domain.Notification{}, domain.ValidationError{Field: "recipient_id", Reason: "required"}
	}
	if ev.Type == "" {
		return domain.Notification{}, domain.ValidationError{Field: "type", Reason: "required"}
	}
	n := domain.Notification{
		RecipientID:    ev.RecipientID,
		Type:           ev.Type,
		Title:          ev.Title,
		Message:        ev.Message,
		ProjectID:      optional(ev.ProjectID),
		ProposalID:     optional(ev.ProposalID),
		ContractID:     optional(ev.ContractID),
		ConversationID: optional(ev.ConversationID),
		EmailStatus:    domain.EmailPending,
		CreatedAt:      d.Now().UTC().Format(time.RFC3339),
	}
	if ev.Email == "" {
		n.EmailStatus = domain.EmailSkipped
		d.skipped.Add(1)
	}
	id, err := d.repo.InsertNotification(ctx, nil, n)
	if err != nil {
		return domain.Notification{}, err
	}
	n.ID = id
	return n, nil
}

// Notify writes the in-app row synchronously and queues its email. The returned error is
// non-nil only when the row could not be written or the email job could not be queued; in
// the latter case the row still exists and records the failure.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) (domain.Notification, error) {
	n, err := d.insert(ctx, ev)
	if err != nil {
		return n, err
	}
	if ev.Email == "" {
		return n, nil
	}
	if err := d.enqueue(ctx, job{event: ev, notificationID: n.ID}); err != nil {
		d.recordEmail(ctx, n.ID, domain.EmailFailed, err.Error())
		n.EmailStatus = domain.EmailFailed
		n.EmailError = err.Error()
		return n, err
	}
	return n, nil
}

// Dispatch queues the whole fan-out, row and email, without waiting for either.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...Event) error {
	var errs []error
	for _, ev := range events {
		if err := d.enqueue(ctx, job{event: ev}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) Get(ctx context.Context, id int64, actor domain.Actor) (domain.Notification, error) {
	n, err := d.repo.GetNotification(ctx, id)
	if err != nil {
		return n, err
	}
	if err := auth.RequireUser(actor, n.RecipientID, "view notification", "not the recipient"); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// MarkRead flips the read flag for the recipient. Marking twice is fine.
func (d *Dispatcher) MarkRead(ctx context.Context, id int64, actor domain.Actor) (domain.Notification, error) {
	n, err := d.repo.GetNotification(ctx, id)
	if err != nil {
		return n, err
	}
	if err := auth.RequireUser(actor, n.RecipientID, "mark notification read", "not the recipient"); err != nil {
		return domain.Notification{}, err
	}
	if n.IsRead {
		return n, nil
	}
	if err := d.repo.MarkNotificationRead(ctx, id); err != nil {
		return n, err
	}
	n.IsRead = true
	return n, nil
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, actor domain.Actor) (int64, error) {
	if actor.ID == "" {
		return 0, auth.ForbiddenError{Action: "mark notifications read", Reason: "actor required"}
	}
	return d.repo.MarkAllNotificationsRead(ctx, actor.ID)
}

func (d *Dispatcher) CountUnread(ctx context.Context, userID string) (int, error) {
	return d.repo.CountUnreadNotifications(ctx, userID)
}

// List returns the user's notifications newest first; cursor pages to older rows.
func (d *Dispatcher) List(ctx context.Context, userID string, unreadOnly bool, limit int, cursor int64) ([]domain.Notification, error) {
	return d.repo.ListNotifications(ctx, userID, unreadOnly, limit, cursor)
}
