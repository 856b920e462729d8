package repo

import (
	"context"
	"database/sql"

	"talentlink/internal/domain"
)

const notificationColumns = `id,recipient_id,type,title,message,project_id,proposal_id,contract_id,conversation_id,is_read,
email_status,COALESCE(email_error,''),created_at`

func scanNotification(row interface{ Scan(...any) error }) (domain.Notification, error) {
	var n domain.Notification
	var projectID, proposalID, contractID, conversationID sql.NullString
	err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &projectID, &proposalID, &contractID, &conversationID,
		&n.IsRead, &n.EmailStatus, &n.EmailError, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.ProjectID = stringPtr(projectID)
	n.ProposalID = stringPtr(proposalID)
	n.ContractID = stringPtr(contractID)
	n.ConversationID = stringPtr(conversationID)
	return n, nil
}

// InsertNotification stores a notification and returns its ID.
func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) (int64, error) {
	if n.EmailStatus == "" {
		n.EmailStatus = domain.EmailPending
	}
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO notifications(recipient_id,type,title,message,project_id,proposal_id,contract_id,
conversation_id,is_read,email_status,created_at) VALUES (?,?,?,?,?,?,?,?,0,?,?)`,
		n.RecipientID, n.Type, n.Title, n.Message, nullableStringPtr(n.ProjectID), nullableStringPtr(n.ProposalID),
		nullableStringPtr(n.ContractID), nullableStringPtr(n.ConversationID), n.EmailStatus, n.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetNotification(ctx context.Context, id int64) (domain.Notification, error) {
	return scanNotification(r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id))
}

// ListNotifications returns a recipient's notifications newest first. A cursor > 0 pages
// to rows older than that ID.
func (r Repo) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int, cursor int64) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id=?`
	args := []any{recipientID}
	if unreadOnly {
		query += ` AND is_read=0`
	}
	if cursor > 0 {
		query += ` AND id<?`
		args = append(args, cursor)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id=? AND is_read=0`, recipientID).Scan(&n)
	return n, err
}

func (r Repo) MarkNotificationRead(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=?`, id)
	return err
}

// MarkAllNotificationsRead flips every unread notification of the recipient and returns how many changed.
func (r Repo) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE recipient_id=? AND is_read=0`, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetNotificationEmailStatus records the outcome of the email attempt.
func (r Repo) SetNotificationEmailStatus(ctx context.Context, id int64, status, errMsg string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET email_status=?,email_error=? WHERE id=?`, status, nullable(errMsg), id)
	return err
}
