package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"talentlink/internal/domain"
)

const proposalColumns = `id,project_id,freelancer_id,bid_cents,message,status,created_at,updated_at`

func scanProposal(row interface{ Scan(...any) error }) (domain.Proposal, error) {
	var p domain.Proposal
	err := row.Scan(&p.ID, &p.ProjectID, &p.FreelancerID, &p.BidCents, &p.Message, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO proposals(`+proposalColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.FreelancerID, p.BidCents, p.Message, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	return r.GetProposalTx(ctx, nil, id)
}

func (r Repo) GetProposalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Proposal, error) {
	return scanProposal(r.on(tx).QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
}

type ProposalFilters struct {
	ProjectID    string
	FreelancerID string
	// ClientID restricts to proposals on projects owned by this client.
	ClientID string
	Status   string
}

func (r Repo) ListProposals(ctx context.Context, f ProposalFilters) ([]domain.Proposal, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "p.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.FreelancerID != "" {
		clauses = append(clauses, "p.freelancer_id=?")
		args = append(args, f.FreelancerID)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "pr.client_id=?")
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		clauses = append(clauses, "p.status=?")
		args = append(args, f.Status)
	}
	query := fmt.Sprintf(`SELECT p.id,p.project_id,p.freelancer_id,p.bid_cents,p.message,p.status,p.created_at,p.updated_at
FROM proposals p JOIN projects pr ON pr.id=p.project_id
WHERE %s ORDER BY p.created_at DESC, p.id DESC`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SetProposalStatus moves a proposal from one status to another, reporting false when the
// proposal had already left the expected status.
func (r Repo) SetProposalStatus(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE proposals SET status=?,updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ForceProposalStatus sets the status regardless of the current one.
func (r Repo) ForceProposalStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	_, err := r.on(tx).ExecContext(ctx, `UPDATE proposals SET status=?,updated_at=? WHERE id=?`, status, updatedAt, id)
	return err
}

// UpdatePendingProposal edits bid and message while the proposal is still pending.
func (r Repo) UpdatePendingProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE proposals SET bid_cents=?,message=?,updated_at=? WHERE id=? AND status='pending'`,
		p.BidCents, p.Message, p.UpdatedAt, p.ID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeletePendingProposal removes a proposal that is still pending. It reports false when
// the proposal was already decided.
func (r Repo) DeletePendingProposal(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM proposals WHERE id=? AND status='pending'`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
