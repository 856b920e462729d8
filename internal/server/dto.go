package server

import (
	"encoding/json"

	"talentlink/internal/domain"
)

// Request payloads

type DevLoginRequest struct {
	Username string `json:"username"`
}

type RegisterUserRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role" enum:"client,freelancer"`
}

type CreateProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	BudgetCents int64  `json:"budget_cents"`
	Duration    string `json:"duration,omitempty"`
}

type UpdateProjectRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	BudgetCents *int64  `json:"budget_cents,omitempty"`
	Duration    *string `json:"duration,omitempty"`
}

type SubmitProposalRequest struct {
	ProjectID string `json:"project_id"`
	BidCents  int64  `json:"bid_cents"`
	Message   string `json:"message,omitempty"`
}

type UpdateProposalRequest struct {
	BidCents *int64  `json:"bid_cents,omitempty"`
	Message  *string `json:"message,omitempty"`
}

type CreateContractRequest struct {
	ProposalID      string `json:"proposal_id"`
	StartDate       string `json:"start_date,omitempty" format:"date"`
	EndDate         string `json:"end_date,omitempty" format:"date"`
	Deliverables    string `json:"deliverables,omitempty"`
	Milestones      any    `json:"milestones,omitempty"`
	PaymentSchedule string `json:"payment_schedule,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty" enum:"fixed,hourly,milestone"`
}

type SignContractRequest struct {
	Action string `json:"action" enum:"sign,reject"`
	Reason string `json:"reason,omitempty"`
}

type ProgressRequest struct {
	Progress int `json:"progress" minimum:"0" maximum:"100"`
}

type StatusRequest struct {
	Status string `json:"status" enum:"draft,active,completed,terminated,disputed"`
	Reason string `json:"reason,omitempty"`
}

type OpenConversationRequest struct {
	ContractID string `json:"contract_id"`
}

type PostMessageRequest struct {
	MessageType    string         `json:"message_type,omitempty" enum:"text,file,contract"`
	Text           string         `json:"text,omitempty"`
	FileURL        string         `json:"file_url,omitempty"`
	FileName       string         `json:"file_name,omitempty"`
	ContractAction string         `json:"contract_action,omitempty"`
	ContractData   map[string]any `json:"contract_data,omitempty"`
}

type ConversationActiveRequest struct {
	Active bool `json:"active"`
}

type CreateReviewRequest struct {
	ContractID string `json:"contract_id"`
	Rating     int    `json:"rating"`
	Comments   string `json:"comments,omitempty"`
}

type UpdateReviewRequest struct {
	Rating   *int    `json:"rating,omitempty"`
	Comments *string `json:"comments,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type ContractResponse struct {
	domain.Contract
	Milestones   any    `json:"milestones,omitempty"`
	FullySigned  bool   `json:"is_fully_signed"`
	CanActivate  bool   `json:"can_activate"`
	Counterparty string `json:"counterparty_id,omitempty"`
}

type NotificationListResponse struct {
	Items      []domain.Notification `json:"items"`
	NextCursor *int64                `json:"next_cursor,omitempty"`
}

type ConversationResponse struct {
	domain.Conversation
	UnreadCount int `json:"unread_count"`
}

type ApiError struct {
	Error apiErrorBody `json:"error"`
}

func contractResponse(c domain.Contract, actor domain.Actor) ContractResponse {
	res := ContractResponse{
		Contract:    c,
		FullySigned: c.IsFullySigned(),
		CanActivate: c.CanActivate(),
	}
	if c.MilestonesJSON != "" {
		var v any
		if json.Unmarshal([]byte(c.MilestonesJSON), &v) == nil {
			res.Milestones = v
		}
	}
	if c.IsParty(actor.ID) {
		res.Counterparty = c.Counterpart(actor.ID)
	}
	return res
}

func mapContracts(items []domain.Contract, actor domain.Actor) []ContractResponse {
	res := make([]ContractResponse, 0, len(items))
	for _, c := range items {
		res = append(res, contractResponse(c, actor))
	}
	return res
}

// rawJSON re-encodes a decoded JSON value; absent or null values stay empty.
func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil, err
	}
	return data, nil
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
