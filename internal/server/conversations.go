package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"talentlink/internal/chat"
	"talentlink/internal/domain"
)

type conversationPath struct {
	ConversationID string `path:"conversation_id"`
}

func registerConversations(api huma.API, m *chat.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "open-conversation",
		Method:      http.MethodPost,
		Path:        "/conversations",
		Summary:     "Open the conversation of a contract (201 when created, 200 when it already existed)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body OpenConversationRequest `json:"body"`
	}) (*struct {
		Status int
		Body   domain.Conversation `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if strings.TrimSpace(input.Body.ContractID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "contract_id is required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		conv, created, err := m.OpenConversation(ctx, actor, input.Body.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   domain.Conversation `json:"body"`
		}{Status: status, Body: conv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conversations",
		Method:      http.MethodGet,
		Path:        "/conversations",
		Summary:     "List my active conversations, most recent first",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]ConversationResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := m.ListConversations(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ConversationResponse, 0, len(items))
		for _, conv := range items {
			n, err := m.UnreadCount(ctx, actor, conv.ID)
			if err != nil {
				return nil, handleError(err)
			}
			res = append(res, ConversationResponse{Conversation: conv, UnreadCount: n})
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conversation",
		Method:      http.MethodGet,
		Path:        "/conversations/{conversation_id}",
		Summary:     "Get conversation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conversationPath) (*bodyOutput[ConversationResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		conv, err := m.GetConversation(ctx, actor, input.ConversationID)
		if err != nil {
			return nil, handleError(err)
		}
		n, err := m.UnreadCount(ctx, actor, conv.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ConversationResponse{Conversation: conv, UnreadCount: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/conversations/{conversation_id}/messages",
		Summary:     "All messages in order; marks the other side's messages read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conversationPath) (*bodyOutput[[]domain.Message], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := m.ListMessages(ctx, actor, input.ConversationID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(msgs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/conversations/{conversation_id}/messages",
		Summary:       "Post a text, file link or contract message",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ConversationID string             `path:"conversation_id"`
		Body           PostMessageRequest `json:"body"`
	}) (*bodyOutput[domain.Message], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := rawJSON(input.Body.ContractData)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "contract_data: "+err.Error(), nil)
		}
		msg, err := m.PostMessage(ctx, actor, input.ConversationID, chat.PostOptions{
			Type:           input.Body.MessageType,
			Text:           input.Body.Text,
			FileURL:        input.Body.FileURL,
			FileName:       input.Body.FileName,
			ContractAction: input.Body.ContractAction,
			ContractData:   data,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(msg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "poll-messages",
		Method:      http.MethodGet,
		Path:        "/conversations/{conversation_id}/poll",
		Summary:     "Wait for messages after last_message_id; empty list when none arrive in time",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConversationID string `path:"conversation_id"`
		LastMessageID  int64  `query:"last_message_id"`
	}) (*bodyOutput[[]domain.Message], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := m.PollNewMessages(ctx, actor, input.ConversationID, input.LastMessageID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(msgs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-conversation",
		Method:      http.MethodPost,
		Path:        "/conversations/{conversation_id}/read",
		Summary:     "Mark every message in the conversation read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conversationPath) (*bodyOutput[CountResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := m.MarkConversationRead(ctx, actor, input.ConversationID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-unread-messages",
		Method:      http.MethodGet,
		Path:        "/conversations/{conversation_id}/unread-count",
		Summary:     "Count unread messages in a conversation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conversationPath) (*bodyOutput[CountResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := m.UnreadCount(ctx, actor, input.ConversationID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: int64(n)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-chat",
		Method:      http.MethodPost,
		Path:        "/conversations/{conversation_id}/clear",
		Summary:     "Delete every message in the conversation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conversationPath) (*bodyOutput[CountResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := m.ClearChat(ctx, actor, input.ConversationID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-conversation-active",
		Method:      http.MethodPut,
		Path:        "/conversations/{conversation_id}/active",
		Summary:     "Archive or reopen a conversation",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConversationID string                    `path:"conversation_id"`
		Body           ConversationActiveRequest `json:"body"`
	}) (*bodyOutput[domain.Conversation], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		conv, err := m.SetActive(ctx, actor, input.ConversationID, input.Body.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(conv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-message",
		Method:      http.MethodPost,
		Path:        "/messages/{message_id}/read",
		Summary:     "Mark a message from the other side read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		MessageID int64 `path:"message_id"`
	}) (*bodyOutput[map[string]string], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := m.MarkMessageRead(ctx, actor, input.MessageID); err != nil {
			return nil, handleError(err)
		}
		return reply(map[string]string{"message": "Message marked as read"}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-unread-messages",
		Method:      http.MethodGet,
		Path:        "/messages/unread",
		Summary:     "Unread messages across my conversations",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Message], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := m.UnreadMessages(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(msgs), nil
	})
}

// registerUploads mounts the multipart file endpoint on the router directly so the
// upload streams into storage. An optional "text" part must come before the "file" part.
func registerUploads(r chi.Router, basePath string, m *chat.Manager) {
	r.Post(strings.TrimSuffix(basePath, "/")+"/conversations/{conversation_id}/files", func(w http.ResponseWriter, req *http.Request) {
		actor, authErr := actorFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		reader, err := req.MultipartReader()
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart body required", nil))
			return
		}
		text := ""
		for {
			part, err := reader.NextPart()
			if err != nil {
				break
			}
			switch part.FormName() {
			case "text":
				var buf strings.Builder
				_, _ = io.Copy(&buf, io.LimitReader(part, 64<<10))
				text = buf.String()
			case "file":
				msg, err := m.PostMessage(req.Context(), actor, chi.URLParam(req, "conversation_id"), chat.PostOptions{
					Type:     domain.MessageFile,
					Text:     text,
					FileName: part.FileName(),
					Upload:   part,
				})
				part.Close()
				if err != nil {
					respondStatusError(w, handleError(err))
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusCreated)
				_ = json.NewEncoder(w).Encode(msg)
				return
			}
			part.Close()
		}
		respondStatusError(w, handleError(domain.ValidationError{Field: "file", Reason: "file part required"}))
	})
}
