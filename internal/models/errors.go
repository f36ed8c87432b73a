package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned for a campaign event outside the transition table
	ErrInvalidTransition = errors.New("invalid transition")

	ErrTemplateNotFound = errors.New("template not found")
	ErrLeadNotFound     = errors.New("lead not found")
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrConcurrentModification is returned to the loser of a write race; retrying is safe
	ErrConcurrentModification = errors.New("concurrent modification")

	ErrValidation = errors.New("validation error")
)

// TransitionError names the current state and the rejected event
type TransitionError struct {
	Status CampaignStatus
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a campaign in status %s", e.Event, e.Status)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ValidationError describes input rejected before any side effect
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFound wraps a not-found sentinel with the missing identifier
func NotFound(sentinel error, id string) error {
	return fmt.Errorf("%w: %s", sentinel, id)
}
