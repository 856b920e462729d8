package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"talentlink/internal/domain"
)

// Writer appends contract status history rows. Rows are never updated or deleted.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append records one transition inside the caller's transaction, so the history row
// commits or rolls back together with the status write it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, contractID, oldStatus, newStatus, changedBy, reason string) (domain.ContractStatusChange, error) {
	if tx == nil {
		return domain.ContractStatusChange{}, fmt.Errorf("audit append requires a transaction")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	entry := domain.ContractStatusChange{
		ContractID: contractID,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		ChangedBy:  changedBy,
		Reason:     reason,
		CreatedAt:  w.Now().UTC().Format(time.RFC3339),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO contract_status_history(contract_id,old_status,new_status,changed_by,reason,created_at) VALUES (?,?,?,?,?,?)`,
		entry.ContractID, entry.OldStatus, entry.NewStatus, entry.ChangedBy, entry.Reason, entry.CreatedAt)
	if err != nil {
		return entry, fmt.Errorf("append contract history: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

// List returns the history of a contract, newest first.
func (w Writer) List(ctx context.Context, contractID string) ([]domain.ContractStatusChange, error) {
	rows, err := w.DB.QueryContext(ctx, `SELECT id,contract_id,old_status,new_status,changed_by,reason,created_at
FROM contract_status_history WHERE contract_id=? ORDER BY id DESC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// After returns entries with IDs greater than the cursor in ascending order.
func (w Writer) After(ctx context.Context, cursor int64, limit int) ([]domain.ContractStatusChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,contract_id,old_status,new_status,changed_by,reason,created_at
FROM contract_status_history WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// LatestID returns the most recent history ID.
func (w Writer) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := w.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM contract_status_history`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Count returns how many transitions a contract has recorded.
func (w Writer) Count(ctx context.Context, contractID string) (int, error) {
	var n int
	err := w.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM contract_status_history WHERE contract_id=?`, contractID).Scan(&n)
	return n, err
}

func scanEntries(rows *sql.Rows) ([]domain.ContractStatusChange, error) {
	var res []domain.ContractStatusChange
	for rows.Next() {
		var e domain.ContractStatusChange
		if err := rows.Scan(&e.ID, &e.ContractID, &e.OldStatus, &e.NewStatus, &e.ChangedBy, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
