package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/mail"
	"talentlink/internal/repo"
)

type UserCreateOptions struct {
	Username    string
	Email       string
	DisplayName string
	Role        string
}

// RegisterUser adds a client or freelancer. Usernames are unique.
func (e Engine) RegisterUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	opts.Username = strings.TrimSpace(opts.Username)
	if opts.Username == "" {
		return domain.User{}, domain.ValidationError{Field: "username", Reason: "required"}
	}
	if opts.Role != domain.RoleClient && opts.Role != domain.RoleFreelancer {
		return domain.User{}, domain.ValidationError{Field: "role", Reason: "must be client or freelancer"}
	}
	opts.Email = strings.TrimSpace(opts.Email)
	if opts.Email != "" && !mail.ValidAddress(opts.Email) {
		return domain.User{}, domain.ValidationError{Field: "email", Reason: "invalid address"}
	}
	u := domain.User{
		ID:          uuid.NewString(),
		Username:    opts.Username,
		Email:       opts.Email,
		DisplayName: strings.TrimSpace(opts.DisplayName),
		Role:        opts.Role,
		CreatedAt:   e.timestamp(),
	}
	if err := e.Repo.InsertUser(ctx, nil, u); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.User{}, domain.ConflictError{Entity: "user", Detail: "username " + u.Username + " is taken"}
		}
		return domain.User{}, err
	}
	return u, nil
}

// CreateAPIKey issues a new key for the actor. The plain key is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, name string) (domain.APIKey, string, error) {
	if actor.ID == "" {
		return domain.APIKey{}, "", auth.ForbiddenError{Action: "create api key", Reason: "actor required"}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "tl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    actor.ID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}
