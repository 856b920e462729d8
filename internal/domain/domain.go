package domain

// Roles supplied by the identity layer.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
)

// Project statuses.
const (
	ProjectOpen       = "open"
	ProjectInProgress = "in_progress"
	ProjectCompleted  = "completed"
)

// Proposal statuses.
const (
	ProposalPending  = "pending"
	ProposalAccepted = "accepted"
	ProposalRejected = "rejected"
)

// Contract statuses.
const (
	ContractDraft      = "draft"
	ContractActive     = "active"
	ContractCompleted  = "completed"
	ContractTerminated = "terminated"
	ContractDisputed   = "disputed"
)

// Message types.
const (
	MessageText     = "text"
	MessageFile     = "file"
	MessageContract = "contract"
	MessageSystem   = "system"
)

// Actor is the authenticated caller as supplied by the identity layer.
type Actor struct {
	ID   string
	Role string
}

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role" enum:"client,freelancer"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Name is what other users see in notifications and emails.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func (u User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	BudgetCents int64  `json:"budget_cents"`
	Duration    string `json:"duration,omitempty"`
	Status      string `json:"status" enum:"open,in_progress,completed"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Proposal struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	FreelancerID string `json:"freelancer_id"`
	BidCents     int64  `json:"bid_cents"`
	Message      string `json:"message,omitempty"`
	Status       string `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Contract struct {
	ID                 string  `json:"id"`
	ProposalID         string  `json:"proposal_id"`
	ProjectID          string  `json:"project_id"`
	ClientID           string  `json:"client_id"`
	FreelancerID       string  `json:"freelancer_id"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	AgreedCents        int64   `json:"agreed_cents"`
	StartDate          string  `json:"start_date" format:"date"`
	EndDate            *string `json:"end_date,omitempty" format:"date"`
	Deliverables       string  `json:"deliverables,omitempty"`
	MilestonesJSON     string  `json:"milestones_json,omitempty"`
	PaymentSchedule    string  `json:"payment_schedule,omitempty"`
	PaymentMethod      string  `json:"payment_method" enum:"fixed,hourly,milestone"`
	Status             string  `json:"status" enum:"draft,active,completed,terminated,disputed"`
	Progress           int     `json:"progress"`
	ProgressUpdatedAt  *string `json:"progress_updated_at,omitempty" format:"date-time"`
	ClientSignedAt     *string `json:"client_signed_at,omitempty" format:"date-time"`
	FreelancerSignedAt *string `json:"freelancer_signed_at,omitempty" format:"date-time"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// IsFullySigned reports whether both parties have signed.
func (c Contract) IsFullySigned() bool {
	return c.ClientSignedAt != nil && c.FreelancerSignedAt != nil
}

// CanActivate reports whether the contract may move from draft to active.
func (c Contract) CanActivate() bool {
	return c.Status == ContractDraft && c.IsFullySigned()
}

// IsParty reports whether userID is the client or the freelancer.
func (c Contract) IsParty(userID string) bool {
	return userID != "" && (userID == c.ClientID || userID == c.FreelancerID)
}

// Counterpart returns the other party of the contract.
func (c Contract) Counterpart(userID string) string {
	if userID == c.ClientID {
		return c.FreelancerID
	}
	return c.ClientID
}

// ContractStatusChange is one audit log entry.
type ContractStatusChange struct {
	ID         int64  `json:"id"`
	ContractID string `json:"contract_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	ChangedBy  string `json:"changed_by"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Email delivery states recorded on a notification.
const (
	EmailPending = "pending"
	EmailSent    = "sent"
	EmailFailed  = "failed"
	EmailSkipped = "skipped"
)

type Notification struct {
	ID             int64   `json:"id"`
	RecipientID    string  `json:"recipient_id"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Message        string  `json:"message,omitempty"`
	ProjectID      *string `json:"project_id,omitempty"`
	ProposalID     *string `json:"proposal_id,omitempty"`
	ContractID     *string `json:"contract_id,omitempty"`
	ConversationID *string `json:"conversation_id,omitempty"`
	IsRead         bool    `json:"is_read"`
	EmailStatus    string  `json:"email_status" enum:"pending,sent,failed,skipped"`
	EmailError     string  `json:"email_error,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Conversation struct {
	ID             string   `json:"id"`
	ContractID     string   `json:"contract_id"`
	ParticipantIDs []string `json:"participant_ids"`
	IsActive       bool     `json:"is_active"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID               int64   `json:"id"`
	ConversationID   string  `json:"conversation_id"`
	SenderID         string  `json:"sender_id"`
	Type             string  `json:"message_type" enum:"text,file,contract,system"`
	Text             string  `json:"text,omitempty"`
	FileURL          *string `json:"file_url,omitempty"`
	FileName         string  `json:"file_name,omitempty"`
	ContractAction   string  `json:"contract_action,omitempty"`
	ContractDataJSON string  `json:"contract_data_json,omitempty"`
	IsRead           bool    `json:"is_read"`
	ReadAt           *string `json:"read_at,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

type MessageReadReceipt struct {
	MessageID int64  `json:"message_id"`
	UserID    string `json:"user_id"`
	ReadAt    string `json:"read_at" format:"date-time"`
}

type Review struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`
	ReviewerID string `json:"reviewer_id"`
	RevieweeID string `json:"reviewee_id"`
	Rating     int    `json:"rating" minimum:"1" maximum:"5"`
	Comments   string `json:"comments,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ReviewStats struct {
	AverageRating      float64        `json:"average_rating"`
	TotalReviews       int            `json:"total_reviews"`
	RatingDistribution map[string]int `json:"rating_distribution"`
}

type ReviewableContract struct {
	ContractID     string  `json:"contract_id"`
	ContractTitle  string  `json:"contract_title"`
	OtherPartyID   string  `json:"other_party_id"`
	OtherPartyName string  `json:"other_party_name"`
	CanReview      bool    `json:"can_review"`
	ExistingReview *Review `json:"existing_review,omitempty"`
}
