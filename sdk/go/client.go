package talentlinksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Talentlink HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Timeout must exceed the server's poll timeout
// for PollMessages to return normally.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  45 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	Title       string `json:"title"`
	BudgetCents int64  `json:"budget_cents"`
	Status      string `json:"status"`
}

// Proposal represents a freelancer's bid.
type Proposal struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	FreelancerID string `json:"freelancer_id"`
	BidCents     int64  `json:"bid_cents"`
	Status       string `json:"status"`
}

// Contract represents the API contract model (partial).
type Contract struct {
	ID           string `json:"id"`
	ProposalID   string `json:"proposal_id"`
	ClientID     string `json:"client_id"`
	FreelancerID string `json:"freelancer_id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	FullySigned  bool   `json:"is_fully_signed"`
}

// Message is one chat message.
type Message struct {
	ID             int64   `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id"`
	Type           string  `json:"message_type"`
	Text           string  `json:"text"`
	FileURL        *string `json:"file_url"`
	CreatedAt      string  `json:"created_at"`
}

type Conversation struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`
	IsActive   bool   `json:"is_active"`
}

type Notification struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// NotificationPage wraps list responses with a cursor; NextCursor is nil on the last page.
type NotificationPage struct {
	Items      []Notification `json:"items"`
	NextCursor *int64         `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when
// the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges a username for a bearer token on servers with dev login enabled.
func (c *Client) Login(ctx context.Context, username string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"username": username}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateProject posts a new project as the authenticated client.
func (c *Client) CreateProject(ctx context.Context, title, description string, budgetCents int64) (Project, error) {
	body := map[string]any{
		"title":        title,
		"description":  description,
		"budget_cents": budgetCents,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// SubmitProposal bids on an open project.
func (c *Client) SubmitProposal(ctx context.Context, projectID string, bidCents int64, message string) (Proposal, error) {
	body := map[string]any{
		"project_id": projectID,
		"bid_cents":  bidCents,
		"message":    message,
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "proposals", body, &resp)
	return resp, err
}

// DecideProposal accepts or rejects a pending proposal.
func (c *Client) DecideProposal(ctx context.Context, proposalID string, accept bool) (Proposal, error) {
	decision := "reject"
	if accept {
		decision = "accept"
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("proposals/%s/%s", url.PathEscape(proposalID), decision), nil, &resp)
	return resp, err
}

// CreateContract drafts a contract from an accepted proposal. milestones may be nil.
func (c *Client) CreateContract(ctx context.Context, proposalID string, milestones any) (Contract, error) {
	body := map[string]any{"proposal_id": proposalID}
	if milestones != nil {
		body["milestones"] = milestones
	}
	var resp Contract
	err := c.do(ctx, http.MethodPost, "contracts", body, &resp)
	return resp, err
}

// SignContract signs a draft contract, or rejects it when reason is non-empty.
func (c *Client) SignContract(ctx context.Context, contractID, reason string) (Contract, error) {
	body := map[string]any{"action": "sign"}
	if reason != "" {
		body = map[string]any{"action": "reject", "reason": reason}
	}
	var resp Contract
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("contracts/%s/sign", url.PathEscape(contractID)), body, &resp)
	return resp, err
}

// UpdateProgress reports progress; 100 completes the contract.
func (c *Client) UpdateProgress(ctx context.Context, contractID string, percent int) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("contracts/%s/progress", url.PathEscape(contractID)), map[string]any{"progress": percent}, &resp)
	return resp, err
}

// OpenConversation returns the conversation of a contract, creating it if needed.
func (c *Client) OpenConversation(ctx context.Context, contractID string) (Conversation, error) {
	var resp Conversation
	err := c.do(ctx, http.MethodPost, "conversations", map[string]any{"contract_id": contractID}, &resp)
	return resp, err
}

// PostMessage sends a text message.
func (c *Client) PostMessage(ctx context.Context, conversationID, text string) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("conversations/%s/messages", url.PathEscape(conversationID)), map[string]any{"text": text}, &resp)
	return resp, err
}

// PollMessages blocks until messages newer than lastID arrive or the server's poll
// window ends; an empty slice means nothing arrived.
func (c *Client) PollMessages(ctx context.Context, conversationID string, lastID int64) ([]Message, error) {
	endpoint := fmt.Sprintf("conversations/%s/poll?last_message_id=%d", url.PathEscape(conversationID), lastID)
	var resp []Message
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications returns one page of the caller's notifications, newest first.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int, cursor int64) (NotificationPage, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread_only", "true")
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprint(cursor))
	}
	endpoint := "notifications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp NotificationPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
