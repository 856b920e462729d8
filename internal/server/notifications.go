package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"talentlink/internal/domain"
	"talentlink/internal/notify"
)

type notificationPath struct {
	NotificationID int64 `path:"notification_id"`
}

func registerNotifications(api huma.API, d *notify.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List my notifications, newest first",
	}, func(ctx context.Context, input *struct {
		UnreadOnly bool  `query:"unread_only"`
		Limit      int   `query:"limit"`
		Cursor     int64 `query:"cursor"`
	}) (*bodyOutput[NotificationListResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		items, err := d.List(ctx, actor.ID, input.UnreadOnly, limit, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		res := NotificationListResponse{Items: nonNilSlice(items)}
		if len(items) == limit {
			next := items[len(items)-1].ID
			res.NextCursor = &next
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-unread-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications/unread-count",
		Summary:     "Count my unread notifications",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[CountResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := d.CountUnread(ctx, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: int64(n)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark a notification read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *notificationPath) (*bodyOutput[domain.Notification], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := d.MarkRead(ctx, input.NotificationID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-all-notifications",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark all my notifications read",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[CountResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := d.MarkAllRead(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})
}
