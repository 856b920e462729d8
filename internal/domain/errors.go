package domain

import "fmt"

// InvalidStateError means an entity is not in a status that permits the operation.
type InvalidStateError struct {
	Entity string
	ID     string
	Status string
	Op     string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s; cannot %s", e.Entity, e.ID, e.Status, e.Op)
}

// ConflictError means a uniqueness invariant would be violated.
type ConflictError struct {
	Entity string
	Detail string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Detail)
}

// ValidationError means the input itself is malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// DeliveryError reports a best-effort channel (email, webhook) that did not complete.
type DeliveryError struct {
	Channel   string
	Recipient string
	Err       error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Channel, e.Recipient, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }
