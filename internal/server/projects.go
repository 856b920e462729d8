package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"talentlink/internal/domain"
	"talentlink/internal/engine"
	"talentlink/internal/repo"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type proposalPath struct {
	ProposalID string `path:"proposal_id"`
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*bodyOutput[domain.Project], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, actor, engine.ProjectCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			BudgetCents: input.Body.BudgetCents,
			Duration:    input.Body.Duration,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		ClientID string `query:"client_id"`
		Limit    int    `query:"limit"`
	}) (*bodyOutput[[]domain.Project], error) {
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			Status:   input.Status,
			ClientID: input.ClientID,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*bodyOutput[domain.Project], error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete a project that has no contract",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, actor, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*bodyOutput[domain.Project], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, actor, engine.ProjectUpdateOptions{
			ID:          input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			BudgetCents: input.Body.BudgetCents,
			Duration:    input.Body.Duration,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-proposals",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/proposals",
		Summary:     "List proposals on a project (client only)",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*bodyOutput[[]domain.Proposal], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ProjectProposals(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals",
		Summary:       "Submit a proposal on an open project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitProposalRequest `json:"body"`
	}) (*bodyOutput[domain.Proposal], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitProposal(ctx, actor, engine.ProposalSubmitOptions{
			ProjectID: input.Body.ProjectID,
			BidCents:  input.Body.BidCents,
			Message:   input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "List my proposals, or proposals on my projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*bodyOutput[[]domain.Proposal], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProposals(ctx, actor, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}",
		Summary:     "Get proposal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *proposalPath) (*bodyOutput[domain.Proposal], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProposal(ctx, actor, input.ProposalID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "withdraw-proposal",
		Method:        http.MethodDelete,
		Path:          "/proposals/{proposal_id}",
		Summary:       "Withdraw a pending proposal",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *proposalPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.WithdrawProposal(ctx, actor, input.ProposalID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-proposal",
		Method:      http.MethodPatch,
		Path:        "/proposals/{proposal_id}",
		Summary:     "Revise a pending proposal",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProposalID string                `path:"proposal_id"`
		Body       UpdateProposalRequest `json:"body"`
	}) (*bodyOutput[domain.Proposal], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProposal(ctx, actor, engine.ProposalUpdateOptions{
			ID:       input.ProposalID,
			BidCents: input.Body.BidCents,
			Message:  input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	for _, decision := range []struct {
		id     string
		path   string
		accept bool
	}{
		{"accept-proposal", "/proposals/{proposal_id}/accept", true},
		{"reject-proposal", "/proposals/{proposal_id}/reject", false},
	} {
		accept := decision.accept
		huma.Register(api, huma.Operation{
			OperationID: decision.id,
			Method:      http.MethodPost,
			Path:        decision.path,
			Summary:     "Decide a pending proposal (project client only)",
			Errors:      writeErrors,
		}, func(ctx context.Context, input *proposalPath) (*bodyOutput[domain.Proposal], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := e.DecideProposal(ctx, actor, input.ProposalID, accept)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(p), nil
		})
	}
}
