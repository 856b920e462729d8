package auth

import (
	"fmt"

	"talentlink/internal/domain"
)

// ForbiddenError indicates the actor lacks rights for an entity or operation.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("not allowed to %s", e.Action)
	}
	return fmt.Sprintf("not allowed to %s: %s", e.Action, e.Reason)
}

// RequireRole fails unless the actor holds role.
func RequireRole(actor domain.Actor, role, action string) error {
	if actor.ID == "" {
		return ForbiddenError{Action: action, Reason: "actor required"}
	}
	if actor.Role != role {
		return ForbiddenError{Action: action, Reason: "only " + role + "s may do this"}
	}
	return nil
}

// RequireParty fails unless the actor is the client or the freelancer of the contract.
func RequireParty(actor domain.Actor, c domain.Contract, action string) error {
	if !c.IsParty(actor.ID) {
		return ForbiddenError{Action: action, Reason: "not a party to this contract"}
	}
	return nil
}

// RequireUser fails unless the actor is exactly userID.
func RequireUser(actor domain.Actor, userID, action, reason string) error {
	if actor.ID == "" || actor.ID != userID {
		return ForbiddenError{Action: action, Reason: reason}
	}
	return nil
}
