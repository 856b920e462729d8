package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"talentlink/internal/domain"
	"talentlink/internal/reviews"
)

func registerReviews(api huma.API, l *reviews.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-review",
		Method:        http.MethodPost,
		Path:          "/reviews",
		Summary:       "Review the freelancer of a completed contract (client only)",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateReviewRequest `json:"body"`
	}) (*bodyOutput[domain.Review], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := l.Create(ctx, actor, reviews.CreateOptions{
			ContractID: input.Body.ContractID,
			Rating:     input.Body.Rating,
			Comments:   input.Body.Comments,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-review",
		Method:      http.MethodPatch,
		Path:        "/reviews/{review_id}",
		Summary:     "Revise my review",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ReviewID string              `path:"review_id"`
		Body     UpdateReviewRequest `json:"body"`
	}) (*bodyOutput[domain.Review], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := l.Update(ctx, actor, reviews.UpdateOptions{
			ID:       input.ReviewID,
			Rating:   input.Body.Rating,
			Comments: input.Body.Comments,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-review",
		Method:        http.MethodDelete,
		Path:          "/reviews/{review_id}",
		Summary:       "Delete my review",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReviewID string `path:"review_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := l.Delete(ctx, actor, input.ReviewID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "contract-reviews",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}/reviews",
		Summary:     "Reviews left on a contract",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*bodyOutput[[]domain.Review], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := l.ForContract(ctx, actor, input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-reviews",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/reviews",
		Summary:     "Reviews a user has received",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *userPath) (*bodyOutput[[]domain.Review], error) {
		items, err := l.ForUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-review-stats",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/review-stats",
		Summary:     "Average rating and distribution for a user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *userPath) (*bodyOutput[domain.ReviewStats], error) {
		stats, err := l.Stats(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(stats), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reviewable-contracts",
		Method:      http.MethodGet,
		Path:        "/reviews/reviewable",
		Summary:     "Completed contracts I can review",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.ReviewableContract], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := l.Reviewable(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}
