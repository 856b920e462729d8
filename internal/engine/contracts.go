package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/mail"
	"talentlink/internal/notify"
	"talentlink/internal/repo"
)

const dateLayout = "2006-01-02"

// Sign actions.
const (
	SignActionSign   = "sign"
	SignActionReject = "reject"
)

const (
	reasonCreated        = "Contract created"
	reasonBothSigned     = "Both parties signed the contract"
	reasonRejected       = "Contract rejected"
	reasonAutoComplete   = "Automatically completed - progress reached 100%"
	reasonManualComplete = "Contract manually marked as completed"
)

var contractTransitions = map[string]map[string]bool{
	domain.ContractDraft: {
		domain.ContractActive:     true,
		domain.ContractCompleted:  true,
		domain.ContractTerminated: true,
		domain.ContractDisputed:   true,
	},
	domain.ContractActive: {
		domain.ContractCompleted:  true,
		domain.ContractTerminated: true,
		domain.ContractDisputed:   true,
	},
	domain.ContractDisputed: {
		domain.ContractActive:     true,
		domain.ContractCompleted:  true,
		domain.ContractTerminated: true,
	},
}

func validContractStatus(s string) bool {
	switch s {
	case domain.ContractDraft, domain.ContractActive, domain.ContractCompleted, domain.ContractTerminated, domain.ContractDisputed:
		return true
	}
	return false
}

func ensureContractTransition(c domain.Contract, to string) error {
	if !contractTransitions[c.Status][to] {
		return domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: c.Status, Op: "move to " + to}
	}
	if to == domain.ContractActive && !c.IsFullySigned() {
		return domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: c.Status, Op: "activate before both parties signed"}
	}
	return nil
}

type ContractCreateOptions struct {
	ProposalID      string
	StartDate       string
	EndDate         string
	Deliverables    string
	MilestonesJSON  string
	PaymentSchedule string
	PaymentMethod   string
}

func (e Engine) validateContractOptions(opts *ContractCreateOptions) error {
	if opts.PaymentMethod == "" {
		opts.PaymentMethod = "fixed"
	}
	switch opts.PaymentMethod {
	case "fixed", "hourly", "milestone":
	default:
		return domain.ValidationError{Field: "payment_method", Reason: "must be fixed, hourly or milestone"}
	}
	if opts.StartDate == "" {
		opts.StartDate = e.today()
	}
	start, err := time.Parse(dateLayout, opts.StartDate)
	if err != nil {
		return domain.ValidationError{Field: "start_date", Reason: "expected YYYY-MM-DD"}
	}
	if opts.EndDate != "" {
		end, err := time.Parse(dateLayout, opts.EndDate)
		if err != nil {
			return domain.ValidationError{Field: "end_date", Reason: "expected YYYY-MM-DD"}
		}
		if end.Before(start) {
			return domain.ValidationError{Field: "end_date", Reason: "before start_date"}
		}
	}
	if strings.TrimSpace(opts.MilestonesJSON) == "" {
		opts.MilestonesJSON = "[]"
	}
	var milestones []json.RawMessage
	if err := json.Unmarshal([]byte(opts.MilestonesJSON), &milestones); err != nil {
		return domain.ValidationError{Field: "milestones", Reason: "must be a JSON array"}
	}
	return nil
}

// CreateContract turns an accepted proposal into a draft contract and moves its project
// into progress.
func (e Engine) CreateContract(ctx context.Context, actor domain.Actor, opts ContractCreateOptions) (domain.Contract, error) {
	if err := e.validateContractOptions(&opts); err != nil {
		return domain.Contract{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposalTx(ctx, tx, opts.ProposalID)
	if err != nil {
		return domain.Contract{}, err
	}
	if p.Status != domain.ProposalAccepted {
		return domain.Contract{}, fmt.Errorf("accepted proposal %s: %w", p.ID, repo.ErrNotFound)
	}
	project, err := e.Repo.GetProjectTx(ctx, tx, p.ProjectID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := auth.RequireUser(actor, project.ClientID, "create contract", "not the project client"); err != nil {
		return domain.Contract{}, err
	}
	if existing, err := e.Repo.GetContractByProposalTx(ctx, tx, p.ID); err == nil {
		return domain.Contract{}, domain.ConflictError{Entity: "contract", Detail: fmt.Sprintf("proposal %s already has contract %s", p.ID, existing.ID)}
	} else if !isNotFound(err) {
		return domain.Contract{}, err
	}

	now := e.timestamp()
	c := domain.Contract{
		ID:              uuid.NewString(),
		ProposalID:      p.ID,
		ProjectID:       project.ID,
		ClientID:        project.ClientID,
		FreelancerID:    p.FreelancerID,
		Title:           project.Title,
		Description:     project.Description,
		AgreedCents:     p.BidCents,
		StartDate:       opts.StartDate,
		Deliverables:    opts.Deliverables,
		MilestonesJSON:  opts.MilestonesJSON,
		PaymentSchedule: opts.PaymentSchedule,
		PaymentMethod:   opts.PaymentMethod,
		Status:          domain.ContractDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.EndDate != "" {
		end := opts.EndDate
		c.EndDate = &end
	}
	if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Contract{}, domain.ConflictError{Entity: "contract", Detail: "proposal " + p.ID + " already has a contract"}
		}
		return domain.Contract{}, fmt.Errorf("insert contract: %w", err)
	}
	ok, err := e.Repo.SetProjectStatus(ctx, tx, project.ID, domain.ProjectOpen, domain.ProjectInProgress, now)
	if err != nil {
		return domain.Contract{}, err
	}
	if !ok {
		return domain.Contract{}, domain.InvalidStateError{Entity: "project", ID: project.ID, Status: project.Status, Op: "start a contract"}
	}
	if _, err := e.audit().Append(ctx, tx, c.ID, "", domain.ContractDraft, actor.ID, reasonCreated); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	name := e.displayName(ctx, actor.ID)
	e.notify(ctx, notify.Event{
		RecipientID: c.FreelancerID,
		Type:        notify.TypeContractCreated,
		Title:       "New contract to sign",
		Message:     fmt.Sprintf("%s created a contract for %s", name, c.Title),
		ProjectID:   c.ProjectID,
		ProposalID:  c.ProposalID,
		ContractID:  c.ID,
		Email:       mail.TemplateContractStatus,
		EmailData:   mail.Data{ActorName: name, ContractTitle: c.Title, Status: c.Status},
	})
	e.contractCreated(ctx, c, actor)
	return c, nil
}

type SignOptions struct {
	ContractID string
	Action     string
	Reason     string
}

// Sign records a party's signature or rejection on a draft contract. The second distinct
// signature activates it; a rejection terminates it.
func (e Engine) Sign(ctx context.Context, actor domain.Actor, opts SignOptions) (domain.Contract, error) {
	if opts.Action == "" {
		opts.Action = SignActionSign
	}
	if opts.Action != SignActionSign && opts.Action != SignActionReject {
		return domain.Contract{}, domain.ValidationError{Field: "action", Reason: "must be sign or reject"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetContractTx(ctx, tx, opts.ContractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := auth.RequireParty(actor, c, opts.Action+" contract"); err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractDraft {
		return domain.Contract{}, domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: c.Status, Op: opts.Action}
	}

	prev := c.Status
	now := e.timestamp()
	var reason, proposalStatus string
	switch opts.Action {
	case SignActionSign:
		signedAt := now
		if actor.ID == c.ClientID {
			c.ClientSignedAt = &signedAt
		} else {
			c.FreelancerSignedAt = &signedAt
		}
		if c.CanActivate() {
			c.Status = domain.ContractActive
			reason = reasonBothSigned
			proposalStatus = domain.ProposalAccepted
		}
	case SignActionReject:
		c.Status = domain.ContractTerminated
		reason = reasonRejected
		if why := strings.TrimSpace(opts.Reason); why != "" {
			reason += ": " + why
		}
		proposalStatus = domain.ProposalRejected
	}
	c.UpdatedAt = now
	ok, err := e.Repo.UpdateContract(ctx, tx, c, prev)
	if err != nil {
		return domain.Contract{}, err
	}
	if !ok {
		return domain.Contract{}, domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: "changed concurrently", Op: opts.Action}
	}
	var change *domain.ContractStatusChange
	if c.Status != prev {
		if err := e.Repo.ForceProposalStatus(ctx, tx, c.ProposalID, proposalStatus, now); err != nil {
			return domain.Contract{}, err
		}
		entry, err := e.audit().Append(ctx, tx, c.ID, prev, c.Status, actor.ID, reason)
		if err != nil {
			return domain.Contract{}, err
		}
		change = &entry
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	if change != nil {
		e.afterStatusChange(ctx, c, actor, *change)
	} else {
		name := e.displayName(ctx, actor.ID)
		e.notify(ctx, notify.Event{
			RecipientID: c.Counterpart(actor.ID),
			Type:        notify.TypeContractSigned,
			Title:       "Contract signed",
			Message:     fmt.Sprintf("%s signed %s and is waiting for your signature", name, c.Title),
			ProjectID:   c.ProjectID,
			ContractID:  c.ID,
			Email:       mail.TemplateContractStatus,
			EmailData:   mail.Data{ActorName: name, ContractTitle: c.Title, Status: "signed"},
		})
	}
	return c, nil
}

// UpdateProgress records the freelancer's progress. Reaching 100 completes the contract.
func (e Engine) UpdateProgress(ctx context.Context, actor domain.Actor, contractID string, percent int) (domain.Contract, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetContractTx(ctx, tx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := auth.RequireUser(actor, c.FreelancerID, "update progress", "only the freelancer reports progress"); err != nil {
		return domain.Contract{}, err
	}
	if percent < 0 || percent > 100 {
		return domain.Contract{}, domain.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	if c.Status != domain.ContractDraft && c.Status != domain.ContractActive {
		return domain.Contract{}, domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: c.Status, Op: "update progress"}
	}
	now := e.timestamp()
	c.Progress = percent
	c.ProgressUpdatedAt = &now
	c.UpdatedAt = now
	ok, err := e.Repo.UpdateContract(ctx, tx, c, c.Status)
	if err != nil {
		return domain.Contract{}, err
	}
	if !ok {
		return domain.Contract{}, domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: "changed concurrently", Op: "update progress"}
	}
	var change *domain.ContractStatusChange
	if percent == 100 {
		change, err = e.completeContract(ctx, tx, &c, actor.ID, reasonAutoComplete)
		if err != nil {
			return domain.Contract{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	if change != nil {
		e.afterStatusChange(ctx, c, actor, *change)
	}
	return c, nil
}

// UpdateStatusDirect is the administrative status change for either party. Moving to
// the current status is a no-op.
func (e Engine) UpdateStatusDirect(ctx context.Context, actor domain.Actor, contractID, newStatus, reason string) (domain.Contract, error) {
	if !validContractStatus(newStatus) {
		return domain.Contract{}, domain.ValidationError{Field: "status", Reason: "unknown contract status " + newStatus}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetContractTx(ctx, tx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := auth.RequireParty(actor, c, "change contract status"); err != nil {
		return domain.Contract{}, err
	}
	if c.Status == newStatus {
		return c, nil
	}
	if err := ensureContractTransition(c, newStatus); err != nil {
		return domain.Contract{}, err
	}
	reason = strings.TrimSpace(reason)

	var change *domain.ContractStatusChange
	if newStatus == domain.ContractCompleted {
		if reason == "" {
			reason = reasonManualComplete
		}
		change, err = e.completeContract(ctx, tx, &c, actor.ID, reason)
		if err != nil {
			return domain.Contract{}, err
		}
	} else {
		prev := c.Status
		c.Status = newStatus
		c.UpdatedAt = e.timestamp()
		ok, err := e.Repo.UpdateContract(ctx, tx, c, prev)
		if err != nil {
			return domain.Contract{}, err
		}
		if !ok {
			return domain.Contract{}, domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: "changed concurrently", Op: "move to " + newStatus}
		}
		entry, err := e.audit().Append(ctx, tx, c.ID, prev, newStatus, actor.ID, reason)
		if err != nil {
			return domain.Contract{}, err
		}
		change = &entry
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	if change != nil {
		e.afterStatusChange(ctx, c, actor, *change)
	}
	return c, nil
}

// completeContract is the only path into completed. Inside the caller's transaction it
// sets the status and end date, writes the history row and completes the project. It
// returns nil when the contract was already completed, so the cascade runs at most once.
func (e Engine) completeContract(ctx context.Context, tx *sql.Tx, c *domain.Contract, actorID, reason string) (*domain.ContractStatusChange, error) {
	if c.Status == domain.ContractCompleted {
		return nil, nil
	}
	if c.Status == domain.ContractTerminated {
		return nil, domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: c.Status, Op: "complete"}
	}
	prev := c.Status
	today := e.today()
	c.Status = domain.ContractCompleted
	c.EndDate = &today
	c.UpdatedAt = e.timestamp()
	ok, err := e.Repo.UpdateContract(ctx, tx, *c, prev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: "changed concurrently", Op: "complete"}
	}
	entry, err := e.audit().Append(ctx, tx, c.ID, prev, domain.ContractCompleted, actorID, reason)
	if err != nil {
		return nil, err
	}
	project, err := e.Repo.GetProjectTx(ctx, tx, c.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Status != domain.ProjectCompleted {
		if _, err := e.Repo.SetProjectStatus(ctx, tx, project.ID, project.Status, domain.ProjectCompleted, c.UpdatedAt); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

func (e Engine) afterStatusChange(ctx context.Context, c domain.Contract, actor domain.Actor, change domain.ContractStatusChange) {
	typ := notify.TypeContractStatusChanged
	title := "Contract " + change.NewStatus
	switch change.NewStatus {
	case domain.ContractActive:
		typ, title = notify.TypeContractActivated, "Contract is active"
	case domain.ContractCompleted:
		typ, title = notify.TypeContractCompleted, "Contract completed"
	case domain.ContractTerminated:
		typ, title = notify.TypeContractTerminated, "Contract terminated"
	}
	name := e.displayName(ctx, actor.ID)
	msg := fmt.Sprintf("%s: %s -> %s", c.Title, change.OldStatus, change.NewStatus)
	if change.Reason != "" {
		msg += " (" + change.Reason + ")"
	}
	e.notify(ctx, notify.Event{
		RecipientID: c.Counterpart(actor.ID),
		Type:        typ,
		Title:       title,
		Message:     msg,
		ProjectID:   c.ProjectID,
		ContractID:  c.ID,
		Email:       mail.TemplateContractStatus,
		EmailData:   mail.Data{ActorName: name, ContractTitle: c.Title, Status: change.NewStatus, Reason: change.Reason},
	})
	e.statusChanged(ctx, c, change)
}

func (e Engine) GetContract(ctx context.Context, actor domain.Actor, id string) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, id)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := auth.RequireParty(actor, c, "view contract"); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

func (e Engine) ListContracts(ctx context.Context, actor domain.Actor, status string) ([]domain.Contract, error) {
	if actor.ID == "" {
		return nil, auth.ForbiddenError{Action: "list contracts", Reason: "actor required"}
	}
	if status != "" && !validContractStatus(status) {
		return nil, domain.ValidationError{Field: "status", Reason: "unknown contract status " + status}
	}
	return e.Repo.ListContracts(ctx, repo.ContractFilters{PartyID: actor.ID, Status: status})
}

// ContractHistory returns the audit trail of a contract, newest first.
func (e Engine) ContractHistory(ctx context.Context, actor domain.Actor, id string) ([]domain.ContractStatusChange, error) {
	if _, err := e.GetContract(ctx, actor, id); err != nil {
		return nil, err
	}
	return e.audit().List(ctx, id)
}
