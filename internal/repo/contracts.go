package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"talentlink/internal/domain"
)

const contractColumns = `id,proposal_id,project_id,client_id,freelancer_id,title,description,agreed_cents,start_date,end_date,
deliverables,milestones_json,payment_schedule,payment_method,status,progress,progress_updated_at,client_signed_at,
freelancer_signed_at,created_at,updated_at`

func scanContract(row interface{ Scan(...any) error }) (domain.Contract, error) {
	var c domain.Contract
	var endDate, progressAt, clientSigned, freelancerSigned sql.NullString
	err := row.Scan(&c.ID, &c.ProposalID, &c.ProjectID, &c.ClientID, &c.FreelancerID, &c.Title, &c.Description, &c.AgreedCents,
		&c.StartDate, &endDate, &c.Deliverables, &c.MilestonesJSON, &c.PaymentSchedule, &c.PaymentMethod, &c.Status, &c.Progress,
		&progressAt, &clientSigned, &freelancerSigned, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.EndDate = stringPtr(endDate)
	c.ProgressUpdatedAt = stringPtr(progressAt)
	c.ClientSignedAt = stringPtr(clientSigned)
	c.FreelancerSignedAt = stringPtr(freelancerSigned)
	return c, nil
}

func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	if c.MilestonesJSON == "" {
		c.MilestonesJSON = "[]"
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO contracts(`+contractColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProposalID, c.ProjectID, c.ClientID, c.FreelancerID, c.Title, c.Description, c.AgreedCents, c.StartDate,
		nullableStringPtr(c.EndDate), c.Deliverables, c.MilestonesJSON, c.PaymentSchedule, c.PaymentMethod, c.Status, c.Progress,
		nullableStringPtr(c.ProgressUpdatedAt), nullableStringPtr(c.ClientSignedAt), nullableStringPtr(c.FreelancerSignedAt),
		c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	return r.GetContractTx(ctx, nil, id)
}

func (r Repo) GetContractTx(ctx context.Context, tx *sql.Tx, id string) (domain.Contract, error) {
	return scanContract(r.on(tx).QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id))
}

func (r Repo) GetContractByProposalTx(ctx context.Context, tx *sql.Tx, proposalID string) (domain.Contract, error) {
	return scanContract(r.on(tx).QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE proposal_id=?`, proposalID))
}

type ContractFilters struct {
	ClientID     string
	FreelancerID string
	// PartyID matches either side of the contract.
	PartyID string
	Status  string
}

func (r Repo) ListContracts(ctx context.Context, f ContractFilters) ([]domain.Contract, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.FreelancerID != "" {
		clauses = append(clauses, "freelancer_id=?")
		args = append(args, f.FreelancerID)
	}
	if f.PartyID != "" {
		clauses = append(clauses, "(client_id=? OR freelancer_id=?)")
		args = append(args, f.PartyID, f.PartyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := fmt.Sprintf(`SELECT %s FROM contracts WHERE %s ORDER BY created_at DESC, id DESC`, contractColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateContract writes the mutable contract fields, guarded on the status the caller
// read. It reports false when another transition changed the status in between.
func (r Repo) UpdateContract(ctx context.Context, tx *sql.Tx, c domain.Contract, expectedStatus string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE contracts SET status=?,progress=?,progress_updated_at=?,client_signed_at=?,
freelancer_signed_at=?,end_date=?,updated_at=? WHERE id=? AND status=?`,
		c.Status, c.Progress, nullableStringPtr(c.ProgressUpdatedAt), nullableStringPtr(c.ClientSignedAt),
		nullableStringPtr(c.FreelancerSignedAt), nullableStringPtr(c.EndDate), c.UpdatedAt, c.ID, expectedStatus)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
