package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/repo"
)

type ProjectCreateOptions struct {
	Title       string
	Description string
	BudgetCents int64
	Duration    string
}

func (e Engine) CreateProject(ctx context.Context, actor domain.Actor, opts ProjectCreateOptions) (domain.Project, error) {
	if err := auth.RequireRole(actor, domain.RoleClient, "create project"); err != nil {
		return domain.Project{}, err
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Project{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	if opts.BudgetCents < 0 {
		return domain.Project{}, domain.ValidationError{Field: "budget_cents", Reason: "must not be negative"}
	}
	now := e.timestamp()
	p := domain.Project{
		ID:          uuid.NewString(),
		ClientID:    actor.ID,
		Title:       opts.Title,
		Description: opts.Description,
		BudgetCents: opts.BudgetCents,
		Duration:    opts.Duration,
		Status:      domain.ProjectOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertProject(ctx, nil, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// ProjectUpdateOptions carries the fields to change; nil leaves a field as is.
type ProjectUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	BudgetCents *int64
	Duration    *string
}

func (e Engine) UpdateProject(ctx context.Context, actor domain.Actor, opts ProjectUpdateOptions) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := auth.RequireUser(actor, p.ClientID, "update project", "not the project owner"); err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.ProjectCompleted {
		return domain.Project{}, domain.InvalidStateError{Entity: "project", ID: p.ID, Status: p.Status, Op: "update"}
	}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Project{}, domain.ValidationError{Field: "title", Reason: "required"}
		}
		p.Title = title
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.BudgetCents != nil {
		if *opts.BudgetCents < 0 {
			return domain.Project{}, domain.ValidationError{Field: "budget_cents", Reason: "must not be negative"}
		}
		p.BudgetCents = *opts.BudgetCents
	}
	if opts.Duration != nil {
		p.Duration = *opts.Duration
	}
	p.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateProjectDetails(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject removes a project and its proposals. A project that has become a
// contract is kept for the contract's history.
func (e Engine) DeleteProject(ctx context.Context, actor domain.Actor, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireUser(actor, p.ClientID, "delete project", "not the project owner"); err != nil {
		return err
	}
	n, err := e.Repo.CountProjectContracts(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.ConflictError{Entity: "project", Detail: "project has a contract"}
	}
	if err := e.Repo.DeleteProject(ctx, tx, p.ID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return tx.Commit()
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	if f.Status != "" {
		switch f.Status {
		case domain.ProjectOpen, domain.ProjectInProgress, domain.ProjectCompleted:
		default:
			return nil, domain.ValidationError{Field: "status", Reason: "unknown project status " + f.Status}
		}
	}
	return e.Repo.ListProjects(ctx, f)
}
