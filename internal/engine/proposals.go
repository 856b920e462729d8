package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/mail"
	"talentlink/internal/notify"
	"talentlink/internal/repo"
)

type ProposalSubmitOptions struct {
	ProjectID string
	BidCents  int64
	Message   string
}

// SubmitProposal records a pending bid from a freelancer on an open project.
func (e Engine) SubmitProposal(ctx context.Context, actor domain.Actor, opts ProposalSubmitOptions) (domain.Proposal, error) {
	if err := auth.RequireRole(actor, domain.RoleFreelancer, "submit proposal"); err != nil {
		return domain.Proposal{}, err
	}
	if opts.BidCents <= 0 {
		return domain.Proposal{}, domain.ValidationError{Field: "bid_cents", Reason: "must be positive"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	project, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if project.ClientID == actor.ID {
		return domain.Proposal{}, auth.ForbiddenError{Action: "submit proposal", Reason: "cannot bid on your own project"}
	}
	if project.Status != domain.ProjectOpen {
		return domain.Proposal{}, domain.InvalidStateError{Entity: "project", ID: project.ID, Status: project.Status, Op: "accept proposals"}
	}
	now := e.timestamp()
	p := domain.Proposal{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		FreelancerID: actor.ID,
		BidCents:     opts.BidCents,
		Message:      opts.Message,
		Status:       domain.ProposalPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return domain.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}

	name := e.displayName(ctx, actor.ID)
	e.notify(ctx, notify.Event{
		RecipientID: project.ClientID,
		Type:        notify.TypeProposalSubmitted,
		Title:       "New proposal for " + project.Title,
		Message:     fmt.Sprintf("%s submitted a proposal of %s", name, formatCents(p.BidCents)),
		ProjectID:   project.ID,
		ProposalID:  p.ID,
		Email:       mail.TemplateProposalSubmitted,
		EmailData:   mail.Data{ActorName: name, ProjectTitle: project.Title},
	})
	return p, nil
}

type ProposalUpdateOptions struct {
	ID       string
	BidCents *int64
	Message  *string
}

// UpdateProposal lets the author revise a proposal until the client decides on it.
func (e Engine) UpdateProposal(ctx context.Context, actor domain.Actor, opts ProposalUpdateOptions) (domain.Proposal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposalTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := auth.RequireUser(actor, p.FreelancerID, "update proposal", "not the proposal author"); err != nil {
		return domain.Proposal{}, err
	}
	if opts.BidCents != nil {
		if *opts.BidCents <= 0 {
			return domain.Proposal{}, domain.ValidationError{Field: "bid_cents", Reason: "must be positive"}
		}
		p.BidCents = *opts.BidCents
	}
	if opts.Message != nil {
		p.Message = *opts.Message
	}
	p.UpdatedAt = e.timestamp()
	ok, err := e.Repo.UpdatePendingProposal(ctx, tx, p)
	if err != nil {
		return domain.Proposal{}, err
	}
	if !ok {
		return domain.Proposal{}, domain.InvalidStateError{Entity: "proposal", ID: p.ID, Status: p.Status, Op: "update"}
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// WithdrawProposal deletes the author's proposal while it is still pending.
func (e Engine) WithdrawProposal(ctx context.Context, actor domain.Actor, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposalTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireUser(actor, p.FreelancerID, "withdraw proposal", "not the proposal author"); err != nil {
		return err
	}
	ok, err := e.Repo.DeletePendingProposal(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.InvalidStateError{Entity: "proposal", ID: p.ID, Status: p.Status, Op: "withdraw"}
	}
	return tx.Commit()
}

// DecideProposal accepts or rejects a pending proposal. A decided proposal stays decided.
func (e Engine) DecideProposal(ctx context.Context, actor domain.Actor, proposalID string, accept bool) (domain.Proposal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposalTx(ctx, tx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	project, err := e.Repo.GetProjectTx(ctx, tx, p.ProjectID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := auth.RequireUser(actor, project.ClientID, "decide proposal", "not the project client"); err != nil {
		return domain.Proposal{}, err
	}
	to := domain.ProposalRejected
	if accept {
		to = domain.ProposalAccepted
	}
	now := e.timestamp()
	ok, err := e.Repo.SetProposalStatus(ctx, tx, p.ID, domain.ProposalPending, to, now)
	if err != nil {
		return domain.Proposal{}, err
	}
	if !ok {
		return domain.Proposal{}, domain.InvalidStateError{Entity: "proposal", ID: p.ID, Status: p.Status, Op: "decide (already decided)"}
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	p.Status = to
	p.UpdatedAt = now

	ev := notify.Event{
		RecipientID: p.FreelancerID,
		ProjectID:   project.ID,
		ProposalID:  p.ID,
		EmailData:   mail.Data{ProjectTitle: project.Title},
	}
	if accept {
		ev.Type = notify.TypeProposalAccepted
		ev.Title = "Proposal accepted"
		ev.Message = fmt.Sprintf("Your proposal for %s has been accepted", project.Title)
		ev.Email = mail.TemplateProposalAccepted
	} else {
		ev.Type = notify.TypeProposalRejected
		ev.Title = "Proposal declined"
		ev.Message = fmt.Sprintf("Your proposal for %s has been declined", project.Title)
		ev.Email = mail.TemplateProposalRejected
	}
	e.notify(ctx, ev)
	return p, nil
}

// GetProposal is visible to its author and to the project client.
func (e Engine) GetProposal(ctx context.Context, actor domain.Actor, id string) (domain.Proposal, error) {
	p, err := e.Repo.GetProposal(ctx, id)
	if err != nil {
		return domain.Proposal{}, err
	}
	if actor.ID == p.FreelancerID {
		return p, nil
	}
	project, err := e.Repo.GetProject(ctx, p.ProjectID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := auth.RequireUser(actor, project.ClientID, "view proposal", "not the author or project client"); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// ListProposals returns the actor's own proposals (freelancer) or the proposals on the
// actor's projects (client).
func (e Engine) ListProposals(ctx context.Context, actor domain.Actor, status string) ([]domain.Proposal, error) {
	f := repo.ProposalFilters{Status: status}
	switch actor.Role {
	case domain.RoleFreelancer:
		f.FreelancerID = actor.ID
	case domain.RoleClient:
		f.ClientID = actor.ID
	default:
		return nil, auth.ForbiddenError{Action: "list proposals", Reason: "unknown role"}
	}
	return e.Repo.ListProposals(ctx, f)
}

// ProjectProposals lists every proposal on a project for its client.
func (e Engine) ProjectProposals(ctx context.Context, actor domain.Actor, projectID string) ([]domain.Proposal, error) {
	project, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireUser(actor, project.ClientID, "list project proposals", "not the project client"); err != nil {
		return nil, err
	}
	return e.Repo.ListProposals(ctx, repo.ProposalFilters{ProjectID: projectID})
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
