// Package voice defines the voice-agent/telephony gateway used to place
// outbound calls, and the errors every gateway implementation returns.
package voice

import "context"

// Gateway places one outbound call and returns the provider's
// conversation id. Completion arrives later as a webhook.
type Gateway interface {
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
	// Name returns the provider identifier (e.g., "elevenlabs", "mock").
	Name() string
}

// CallRequest is everything a provider needs to dial one lead.
type CallRequest struct {
	AgentID       string
	PhoneNumberID string
	ToNumber      string
	// Variables are injected into the agent's prompt (lead name, address...).
	Variables map[string]string
}
