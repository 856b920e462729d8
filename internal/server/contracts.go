package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"talentlink/internal/domain"
	"talentlink/internal/engine"
)

type contractPath struct {
	ContractID string `path:"contract_id"`
}

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contract",
		Method:        http.MethodPost,
		Path:          "/contracts",
		Summary:       "Create a draft contract from an accepted proposal",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateContractRequest `json:"body"`
	}) (*bodyOutput[ContractResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		milestones, err := rawJSON(input.Body.Milestones)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "milestones: "+err.Error(), nil)
		}
		c, err := e.CreateContract(ctx, actor, engine.ContractCreateOptions{
			ProposalID:      input.Body.ProposalID,
			StartDate:       input.Body.StartDate,
			EndDate:         input.Body.EndDate,
			Deliverables:    input.Body.Deliverables,
			MilestonesJSON:  string(milestones),
			PaymentSchedule: input.Body.PaymentSchedule,
			PaymentMethod:   input.Body.PaymentMethod,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(contractResponse(c, actor)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List contracts I am a party to",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*bodyOutput[[]ContractResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListContracts(ctx, actor, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapContracts(items, actor)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Get contract",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*bodyOutput[ContractResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetContract(ctx, actor, input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(contractResponse(c, actor)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/sign",
		Summary:     "Sign or reject a draft contract",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string              `path:"contract_id"`
		Body       SignContractRequest `json:"body"`
	}) (*bodyOutput[ContractResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Sign(ctx, actor, engine.SignOptions{
			ContractID: input.ContractID,
			Action:     input.Body.Action,
			Reason:     input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(contractResponse(c, actor)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contract-progress",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/progress",
		Summary:     "Report progress (freelancer only); 100 completes the contract",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string          `path:"contract_id"`
		Body       ProgressRequest `json:"body"`
	}) (*bodyOutput[ContractResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateProgress(ctx, actor, input.ContractID, input.Body.Progress)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(contractResponse(c, actor)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contract-status",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/status",
		Summary:     "Move a contract to another status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string        `path:"contract_id"`
		Body       StatusRequest `json:"body"`
	}) (*bodyOutput[ContractResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateStatusDirect(ctx, actor, input.ContractID, input.Body.Status, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(contractResponse(c, actor)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "contract-history",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}/history",
		Summary:     "Status history, newest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*bodyOutput[[]domain.ContractStatusChange], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ContractHistory(ctx, actor, input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}
