package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/dialq/pkg/models"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

// Event is the body of a call-completion callback.
type Event struct {
	ConversationID string `json:"conversation_id"`
	Outcome        string `json:"outcome"`
	Reason         string `json:"reason,omitempty"`
}

var outcomes = map[string]models.Outcome{
	"completed": models.OutcomeCompleted,
	"answered":  models.OutcomeCompleted,
	"success":   models.OutcomeCompleted,
	"done":      models.OutcomeCompleted,
	"failed":    models.OutcomeFailed,
	"no_answer": models.OutcomeFailed,
	"no-answer": models.OutcomeFailed,
	"busy":      models.OutcomeFailed,
	"error":     models.OutcomeFailed,
	"canceled":  models.OutcomeFailed,
	"cancelled": models.OutcomeFailed,
}

// ParseEvent decodes and validates a callback body.
func ParseEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	e.ConversationID = strings.TrimSpace(e.ConversationID)
	if e.ConversationID == "" {
		return Event{}, fmt.Errorf("%w: conversation_id is required", ErrInvalidPayload)
	}
	if _, err := e.Result(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Result maps the provider's outcome vocabulary onto a lead outcome.
func (e Event) Result() (models.Outcome, error) {
	o, ok := outcomes[strings.ToLower(strings.TrimSpace(e.Outcome))]
	if !ok {
		return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidPayload, e.Outcome)
	}
	return o, nil
}

// Detail is what gets recorded on the lead result: the provider's reason
// if given, else its raw outcome.
func (e Event) Detail() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Outcome
}
