// Package providers builds the configured voice.Gateway.
package providers

import (
	"fmt"

	"github.com/kiranshivaraju/dialq/internal/config"
	"github.com/kiranshivaraju/dialq/internal/voice"
	"github.com/kiranshivaraju/dialq/internal/voice/elevenlabs"
	"github.com/kiranshivaraju/dialq/internal/voice/mock"
)

// New constructs the gateway named by cfg.Provider.
// Called once at server startup.
func New(cfg config.VoiceConfig) (voice.Gateway, error) {
	switch cfg.Provider {
	case "elevenlabs":
		return elevenlabs.NewClient(cfg), nil
	case "mock":
		return mock.NewGateway(), nil
	default:
		return nil, fmt.Errorf("unknown voice provider %q: must be one of elevenlabs, mock", cfg.Provider)
	}
}
