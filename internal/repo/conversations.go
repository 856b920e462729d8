package repo

import (
	"context"
	"database/sql"

	"talentlink/internal/domain"
)

func (r Repo) InsertConversation(ctx context.Context, tx *sql.Tx, c domain.Conversation) error {
	q := r.on(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO conversations(id,contract_id,is_active,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, c.ContractID, c.IsActive, c.CreatedAt, c.UpdatedAt); err != nil {
		return err
	}
	for _, userID := range c.ParticipantIDs {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO conversation_participants(conversation_id,user_id) VALUES (?,?)`, c.ID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	return r.getConversation(ctx, r.DB, `WHERE id=?`, id)
}

func (r Repo) GetConversationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Conversation, error) {
	return r.getConversation(ctx, r.on(tx), `WHERE id=?`, id)
}

func (r Repo) GetConversationByContractTx(ctx context.Context, tx *sql.Tx, contractID string) (domain.Conversation, error) {
	return r.getConversation(ctx, r.on(tx), `WHERE contract_id=?`, contractID)
}

func (r Repo) getConversation(ctx context.Context, q queryer, where string, arg any) (domain.Conversation, error) {
	var c domain.Conversation
	err := q.QueryRowContext(ctx, `SELECT id,contract_id,is_active,created_at,updated_at FROM conversations `+where, arg).
		Scan(&c.ID, &c.ContractID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ParticipantIDs, err = participants(ctx, q, c.ID)
	return c, err
}

func participants(ctx context.Context, q queryer, conversationID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM conversation_participants WHERE conversation_id=? ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListConversations returns the active conversations a user takes part in, most recent first.
func (r Repo) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT c.id,c.contract_id,c.is_active,c.created_at,c.updated_at
FROM conversations c JOIN conversation_participants cp ON cp.conversation_id=c.id
WHERE cp.user_id=? AND c.is_active=1 ORDER BY c.updated_at DESC, c.id`, userID)
	if err != nil {
		return nil, err
	}
	var res []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.ContractID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range res {
		ids, err := participants(ctx, r.DB, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].ParticipantIDs = ids
	}
	return res, nil
}

func (r Repo) TouchConversation(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := r.on(tx).ExecContext(ctx, `UPDATE conversations SET updated_at=? WHERE id=?`, updatedAt, id)
	return err
}

// SetConversationActive reports whether the row existed.
func (r Repo) SetConversationActive(ctx context.Context, tx *sql.Tx, id string, active bool, updatedAt string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE conversations SET is_active=?, updated_at=? WHERE id=?`, active, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- messages ---

const messageColumns = `id,conversation_id,sender_id,message_type,text,file_url,file_name,contract_action,contract_data_json,
is_read,read_at,created_at,updated_at`

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var m domain.Message
	var fileURL, readAt sql.NullString
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Text, &fileURL, &m.FileName, &m.ContractAction,
		&m.ContractDataJSON, &m.IsRead, &readAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.FileURL = stringPtr(fileURL)
	m.ReadAt = stringPtr(readAt)
	return m, nil
}

// InsertMessage stores a message and returns its ID, which is also its position in the conversation.
func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) (int64, error) {
	if m.ContractDataJSON == "" {
		m.ContractDataJSON = "{}"
	}
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO messages(conversation_id,sender_id,message_type,text,file_url,file_name,
contract_action,contract_data_json,is_read,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,0,?,?)`,
		m.ConversationID, m.SenderID, m.Type, m.Text, nullableStringPtr(m.FileURL), m.FileName, m.ContractAction,
		m.ContractDataJSON, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetMessage(ctx context.Context, id int64) (domain.Message, error) {
	return scanMessage(r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=?`, id))
}

// MessagesAfter returns messages of a conversation with IDs greater than the cursor in
// creation order. A limit <= 0 returns everything.
func (r Repo) MessagesAfter(ctx context.Context, tx *sql.Tx, conversationID string, cursor int64, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=? AND id>? ORDER BY id ASC`
	args := []any{conversationID, cursor}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.on(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkMessagesRead acknowledges, for userID, every message of the conversation in the
// ID window (afterID, uptoID] not authored by userID. uptoID <= 0 means no upper bound.
// It returns how many messages were newly acknowledged by this user.
func (r Repo) MarkMessagesRead(ctx context.Context, tx *sql.Tx, conversationID, userID string, afterID, uptoID int64, readAt string) (int64, error) {
	q := r.on(tx)
	window := `conversation_id=? AND sender_id<>? AND id>?`
	args := []any{conversationID, userID, afterID}
	if uptoID > 0 {
		window += ` AND id<=?`
		args = append(args, uptoID)
	}
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO message_read_receipts(message_id,user_id,read_at)
SELECT id, ?, ? FROM messages WHERE `+window, append([]any{userID, readAt}, args...)...)
	if err != nil {
		return 0, err
	}
	acknowledged, _ := res.RowsAffected()
	if _, err := q.ExecContext(ctx, `UPDATE messages SET is_read=1, read_at=? WHERE is_read=0 AND `+window,
		append([]any{readAt}, args...)...); err != nil {
		return 0, err
	}
	return acknowledged, nil
}

// MarkMessageRead flips one message and records the user's receipt. It reports whether a
// new receipt was written.
func (r Repo) MarkMessageRead(ctx context.Context, tx *sql.Tx, messageID int64, userID, readAt string) (bool, error) {
	q := r.on(tx)
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO message_read_receipts(message_id,user_id,read_at) VALUES (?,?,?)`, messageID, userID, readAt)
	if err != nil {
		return false, err
	}
	if _, err := q.ExecContext(ctx, `UPDATE messages SET is_read=1, read_at=? WHERE id=? AND is_read=0`, readAt, messageID); err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountUnreadMessages counts messages of a conversation the user has not acknowledged.
func (r Repo) CountUnreadMessages(ctx context.Context, conversationID, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages m
WHERE m.conversation_id=? AND m.sender_id<>?
AND NOT EXISTS (SELECT 1 FROM message_read_receipts rr WHERE rr.message_id=m.id AND rr.user_id=?)`,
		conversationID, userID, userID).Scan(&n)
	return n, err
}

// UnreadMessages lists every unacknowledged message addressed to the user across conversations.
func (r Repo) UnreadMessages(ctx context.Context, userID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT m.id,m.conversation_id,m.sender_id,m.message_type,m.text,m.file_url,m.file_name,
m.contract_action,m.contract_data_json,m.is_read,m.read_at,m.created_at,m.updated_at
FROM messages m JOIN conversation_participants cp ON cp.conversation_id=m.conversation_id AND cp.user_id=?
WHERE m.sender_id<>?
AND NOT EXISTS (SELECT 1 FROM message_read_receipts rr WHERE rr.message_id=m.id AND rr.user_id=?)
ORDER BY m.id DESC`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ListReceipts(ctx context.Context, messageID int64) ([]domain.MessageReadReceipt, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT message_id,user_id,read_at FROM message_read_receipts WHERE message_id=? ORDER BY user_id`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MessageReadReceipt
	for rows.Next() {
		var rr domain.MessageReadReceipt
		if err := rows.Scan(&rr.MessageID, &rr.UserID, &rr.ReadAt); err != nil {
			return nil, err
		}
		res = append(res, rr)
	}
	return res, rows.Err()
}

// DeleteMessages removes every message of a conversation and returns how many were deleted.
func (r Repo) DeleteMessages(ctx context.Context, tx *sql.Tx, conversationID string) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=?`, conversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
