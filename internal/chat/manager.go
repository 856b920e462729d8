// Package chat runs the per-contract conversations: opening them, posting and reading
// messages, and the long-poll clients use to wait for new ones.
package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/mail"
	"talentlink/internal/notify"
	"talentlink/internal/repo"
	"talentlink/internal/storage"
)

// Notifier fans new-message notifications out without blocking the sender.
type Notifier interface {
	Dispatch(ctx context.Context, events ...notify.Event) error
}

type Manager struct {
	DB       *sql.DB
	Repo     repo.Repo
	Storage  storage.Storage
	Poller   Poller
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, store storage.Storage, poller Poller, n Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if poller == nil {
		poller = NewSignalPoller(defaultPollInterval, defaultPollTimeout)
	}
	return &Manager{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Storage:  store,
		Poller:   poller,
		Notifier: n,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (m *Manager) timestamp() string {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func startedText(title string) string {
	return fmt.Sprintf("Contract conversation started for '%s'", title)
}

// OpenConversation returns the conversation of a contract, creating it with both parties
// and an opening system message on first use. created reports whether this call made it.
func (m *Manager) OpenConversation(ctx context.Context, actor domain.Actor, contractID string) (conv domain.Conversation, created bool, err error) {
	c, err := m.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if err := auth.RequireParty(actor, c, "open conversation"); err != nil {
		return domain.Conversation{}, false, err
	}

	conv, err = m.createConversation(ctx, actor, c)
	if err == nil {
		m.Logger.Info("conversation opened", "conversation", conv.ID, "contract", c.ID)
		return conv, true, nil
	}
	if errors.Is(err, errExists) || repo.IsUniqueViolation(err) {
		conv, err = m.Repo.GetConversationByContractTx(ctx, nil, c.ID)
		return conv, false, err
	}
	return domain.Conversation{}, false, err
}

var errExists = errors.New("conversation exists")

func (m *Manager) createConversation(ctx context.Context, actor domain.Actor, c domain.Contract) (domain.Conversation, error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer tx.Rollback()

	if _, err := m.Repo.GetConversationByContractTx(ctx, tx, c.ID); err == nil {
		return domain.Conversation{}, errExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Conversation{}, err
	}
	now := m.timestamp()
	conv := domain.Conversation{
		ID:             uuid.NewString(),
		ContractID:     c.ID,
		ParticipantIDs: []string{c.ClientID, c.FreelancerID},
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.Repo.InsertConversation(ctx, tx, conv); err != nil {
		return domain.Conversation{}, err
	}
	if _, err := m.Repo.InsertMessage(ctx, tx, domain.Message{
		ConversationID: conv.ID,
		SenderID:       actor.ID,
		Type:           domain.MessageSystem,
		Text:           startedText(c.Title),
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return domain.Conversation{}, fmt.Errorf("insert opening message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Conversation{}, err
	}
	conv, err = m.Repo.GetConversation(ctx, conv.ID)
	return conv, err
}

// participant loads a conversation and fails unless actor takes part in it.
func (m *Manager) participant(ctx context.Context, actor domain.Actor, conversationID, action string) (domain.Conversation, error) {
	conv, err := m.Repo.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if actor.ID == "" || !conv.HasParticipant(actor.ID) {
		return domain.Conversation{}, auth.ForbiddenError{Action: action, Reason: "not a participant in this conversation"}
	}
	return conv, nil
}

func (m *Manager) GetConversation(ctx context.Context, actor domain.Actor, conversationID string) (domain.Conversation, error) {
	return m.participant(ctx, actor, conversationID, "view conversation")
}

func (m *Manager) ListConversations(ctx context.Context, actor domain.Actor) ([]domain.Conversation, error) {
	return m.Repo.ListConversations(ctx, actor.ID)
}

// PostOptions describes one outgoing message. A file message carries either Upload
// (stored through Storage under FileName) or FileURL, never both.
type PostOptions struct {
	Type           string
	Text           string
	FileURL        string
	FileName       string
	Upload         io.Reader
	ContractAction string
	ContractData   json.RawMessage
}

func (m *Manager) PostMessage(ctx context.Context, actor domain.Actor, conversationID string, opts PostOptions) (domain.Message, error) {
	conv, err := m.participant(ctx, actor, conversationID, "post message")
	if err != nil {
		return domain.Message{}, err
	}
	if !conv.IsActive {
		return domain.Message{}, domain.InvalidStateError{Entity: "conversation", ID: conv.ID, Status: "inactive", Op: "post message"}
	}
	if opts.Type == "" {
		opts.Type = domain.MessageText
	}
	msg := domain.Message{
		ConversationID: conv.ID,
		SenderID:       actor.ID,
		Type:           opts.Type,
		Text:           opts.Text,
	}
	switch opts.Type {
	case domain.MessageText:
		msg.Text = strings.TrimSpace(opts.Text)
		if msg.Text == "" {
			return domain.Message{}, domain.ValidationError{Field: "text", Reason: "text messages require text"}
		}
	case domain.MessageFile:
		hasURL := strings.TrimSpace(opts.FileURL) != ""
		if (opts.Upload != nil) == hasURL {
			return domain.Message{}, domain.ValidationError{Field: "file", Reason: "file messages require exactly one of an upload or file_url"}
		}
		if opts.Upload != nil {
			if m.Storage == nil {
				return domain.Message{}, domain.ValidationError{Field: "file", Reason: "uploads are not configured"}
			}
			f, err := m.Storage.Save(ctx, actor.ID, opts.FileName, opts.Upload)
			if err != nil {
				return domain.Message{}, err
			}
			msg.FileURL = &f.URL
			msg.FileName = f.Name
		} else {
			u := strings.TrimSpace(opts.FileURL)
			msg.FileURL = &u
			msg.FileName = opts.FileName
			if msg.FileName == "" {
				msg.FileName = path.Base(u)
			}
		}
	case domain.MessageContract:
		if strings.TrimSpace(opts.ContractAction) == "" {
			return domain.Message{}, domain.ValidationError{Field: "contract_action", Reason: "contract messages require an action"}
		}
		msg.ContractAction = strings.TrimSpace(opts.ContractAction)
		if len(opts.ContractData) > 0 {
			var obj map[string]any
			if err := json.Unmarshal(opts.ContractData, &obj); err != nil {
				return domain.Message{}, domain.ValidationError{Field: "contract_data", Reason: "must be a JSON object"}
			}
			msg.ContractDataJSON = string(opts.ContractData)
		}
	default:
		return domain.Message{}, domain.ValidationError{Field: "message_type", Reason: "unsupported message type " + opts.Type}
	}

	now := m.timestamp()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.ContractDataJSON == "" {
		msg.ContractDataJSON = "{}"
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()
	id, err := m.Repo.InsertMessage(ctx, tx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := m.Repo.TouchConversation(ctx, tx, conv.ID, now); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	msg.ID = id

	m.Poller.Wake(conv.ID)
	m.notifyParticipants(ctx, actor, conv, msg)
	return msg, nil
}

func (m *Manager) notifyParticipants(ctx context.Context, sender domain.Actor, conv domain.Conversation, msg domain.Message) {
	if m.Notifier == nil {
		return
	}
	name := sender.ID
	if u, err := m.Repo.GetUser(ctx, sender.ID); err == nil {
		name = u.Name()
	}
	title := conv.ContractID
	if c, err := m.Repo.GetContract(ctx, conv.ContractID); err == nil {
		title = c.Title
	}
	var events []notify.Event
	for _, id := range conv.ParticipantIDs {
		if id == sender.ID {
			continue
		}
		events = append(events, notify.Event{
			RecipientID:    id,
			Type:           notify.TypeNewMessage,
			Title:          "New Message from " + name,
			Message:        fmt.Sprintf("You have a new message in conversation for %q", title),
			ContractID:     conv.ContractID,
			ConversationID: conv.ID,
			Email:          mail.TemplateNewMessage,
			EmailData: mail.Data{
				ActorName:     name,
				ContractTitle: title,
				Preview:       mail.Preview(msg.Text),
				FileName:      msg.FileName,
			},
		})
	}
	if err := m.Notifier.Dispatch(context.WithoutCancel(ctx), events...); err != nil {
		m.Logger.Warn("new message notification not queued", "conversation", conv.ID, "message", msg.ID, "err", err)
	}
}

// ListMessages returns the whole conversation in order and acknowledges everything the
// other side wrote.
func (m *Manager) ListMessages(ctx context.Context, actor domain.Actor, conversationID string) ([]domain.Message, error) {
	if _, err := m.participant(ctx, actor, conversationID, "list messages"); err != nil {
		return nil, err
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	msgs, err := m.Repo.MessagesAfter(ctx, tx, conversationID, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		if _, err := m.Repo.MarkMessagesRead(ctx, tx, conversationID, actor.ID, 0, msgs[len(msgs)-1].ID, m.timestamp()); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// MarkMessageRead acknowledges one message written by someone else. Repeating it is harmless.
func (m *Manager) MarkMessageRead(ctx context.Context, actor domain.Actor, messageID int64) error {
	msg, err := m.Repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := m.participant(ctx, actor, msg.ConversationID, "mark message read"); err != nil {
		return err
	}
	if msg.SenderID == actor.ID {
		return domain.InvalidStateError{Entity: "message", ID: fmt.Sprint(msg.ID), Status: "own", Op: "mark read"}
	}
	_, err = m.Repo.MarkMessageRead(ctx, nil, msg.ID, actor.ID, m.timestamp())
	return err
}

// MarkConversationRead acknowledges every message the actor has not read yet and returns
// how many that was.
func (m *Manager) MarkConversationRead(ctx context.Context, actor domain.Actor, conversationID string) (int64, error) {
	if _, err := m.participant(ctx, actor, conversationID, "mark conversation read"); err != nil {
		return 0, err
	}
	return m.Repo.MarkMessagesRead(ctx, nil, conversationID, actor.ID, 0, 0, m.timestamp())
}

func (m *Manager) UnreadCount(ctx context.Context, actor domain.Actor, conversationID string) (int, error) {
	if _, err := m.participant(ctx, actor, conversationID, "count unread messages"); err != nil {
		return 0, err
	}
	return m.Repo.CountUnreadMessages(ctx, conversationID, actor.ID)
}

func (m *Manager) UnreadMessages(ctx context.Context, actor domain.Actor) ([]domain.Message, error) {
	msgs, err := m.Repo.UnreadMessages(ctx, actor.ID)
	if msgs == nil && err == nil {
		msgs = []domain.Message{}
	}
	return msgs, err
}

// PollNewMessages waits for messages after sinceID. Whatever it returns from the other
// side is acknowledged; a timeout returns an empty list and a cancelled ctx changes nothing.
func (m *Manager) PollNewMessages(ctx context.Context, actor domain.Actor, conversationID string, sinceID int64) ([]domain.Message, error) {
	if _, err := m.participant(ctx, actor, conversationID, "poll messages"); err != nil {
		return nil, err
	}
	msgs, err := m.Poller.Wait(ctx, conversationID, func(ctx context.Context) ([]domain.Message, error) {
		if _, err := m.Repo.GetConversation(ctx, conversationID); err != nil {
			return nil, err
		}
		return m.Repo.MessagesAfter(ctx, nil, conversationID, sinceID, 0)
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return []domain.Message{}, nil
	}
	last := msgs[len(msgs)-1].ID
	if _, err := m.Repo.MarkMessagesRead(ctx, nil, conversationID, actor.ID, sinceID, last, m.timestamp()); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ClearChat deletes every message of the conversation and returns how many went.
func (m *Manager) ClearChat(ctx context.Context, actor domain.Actor, conversationID string) (int64, error) {
	if _, err := m.participant(ctx, actor, conversationID, "clear chat"); err != nil {
		return 0, err
	}
	n, err := m.Repo.DeleteMessages(ctx, nil, conversationID)
	if err != nil {
		return 0, err
	}
	m.Logger.Info("chat cleared", "conversation", conversationID, "by", actor.ID, "messages", n)
	return n, nil
}

// SetActive archives or reopens a conversation. Archived conversations refuse new
// messages and drop out of ListConversations.
func (m *Manager) SetActive(ctx context.Context, actor domain.Actor, conversationID string, active bool) (domain.Conversation, error) {
	conv, err := m.participant(ctx, actor, conversationID, "archive conversation")
	if err != nil {
		return domain.Conversation{}, err
	}
	now := m.timestamp()
	ok, err := m.Repo.SetConversationActive(ctx, nil, conv.ID, active, now)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !ok {
		return domain.Conversation{}, repo.ErrNotFound
	}
	conv.IsActive = active
	conv.UpdatedAt = now
	return conv, nil
}

// ContractCreatedHook opens the conversation of every new contract. Failures are logged;
// the conversation is opened on demand later.
func (m *Manager) ContractCreatedHook() func(ctx context.Context, c domain.Contract, actor domain.Actor) {
	return func(ctx context.Context, c domain.Contract, actor domain.Actor) {
		if _, _, err := m.OpenConversation(ctx, actor, c.ID); err != nil {
			m.Logger.Warn("open conversation for new contract failed", "contract", c.ID, "err", err)
		}
	}
}
