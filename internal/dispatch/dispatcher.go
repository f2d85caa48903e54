// Package dispatch places exactly one call for exactly one lead, resolving
// the owner's agent configuration and retrying only failures that are
// known not to have reached the provider.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/dialq/internal/config"
	"github.com/kiranshivaraju/dialq/internal/store"
	"github.com/kiranshivaraju/dialq/internal/voice"
	"github.com/kiranshivaraju/dialq/pkg/models"
)

// ConfigSource resolves a user's provisioned agent configuration.
type ConfigSource interface {
	GetAgentConfig(ctx context.Context, userID uuid.UUID) (*models.AgentConfig, error)
}

// Dispatcher turns a lead into a voice.CallRequest and places it.
type Dispatcher struct {
	configs    ConfigSource
	gateway    voice.Gateway
	maxRetries int
	retryBase  time.Duration
}

// New creates a Dispatcher.
func New(configs ConfigSource, gateway voice.Gateway, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		configs:    configs,
		gateway:    gateway,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
	}
}

// Resolve returns the owner's agent configuration, or voice.ErrUnauthenticated
// when none is provisioned or it is incomplete.
func (d *Dispatcher) Resolve(ctx context.Context, ownerID uuid.UUID) (*models.AgentConfig, error) {
	cfg, err := d.configs.GetAgentConfig(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no agent configured", voice.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent config: %w", err)
	}
	if !cfg.Complete() {
		return nil, fmt.Errorf("%w: agent configuration incomplete", voice.ErrUnauthenticated)
	}
	return cfg, nil
}

// Ready reports whether ownerID can place calls at all.
func (d *Dispatcher) Ready(ctx context.Context, ownerID uuid.UUID) error {
	_, err := d.Resolve(ctx, ownerID)
	return err
}

// Dispatch places one call for lead on behalf of ownerID and returns the
// provider's conversation id.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID uuid.UUID, lead models.Lead) (string, error) {
	agent, err := d.Resolve(ctx, ownerID)
	if err != nil {
		return "", err
	}

	req := voice.CallRequest{
		AgentID:       agent.AgentID,
		PhoneNumberID: agent.PhoneNumberID,
		ToNumber:      lead.Phone,
		Variables:     LeadVariables(lead),
	}

	attempt := 0
	place := func() (string, error) {
		attempt++
		id, err := d.gateway.PlaceCall(ctx, req)
		if err != nil && !voice.IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return id, err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("call dispatch failed, retrying",
			"owner_id", ownerID,
			"provider", d.gateway.Name(),
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	id, err := backoff.RetryNotifyWithData(place, d.policy(ctx), notify)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", voice.ErrProviderTimeout, err)
		}
		return "", err
	}
	return id, nil
}

func (d *Dispatcher) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryBase
	b.MaxElapsedTime = 0

	retries := d.maxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// LeadVariables are the dynamic variables injected into the agent prompt.
// Empty fields are omitted.
func LeadVariables(lead models.Lead) map[string]string {
	vars := map[string]string{
		"first_name": lead.FirstName,
		"lead_name":  lead.FullName(),
		"phone":      lead.Phone,
	}
	optional := map[string]string{
		"last_name":   lead.LastName,
		"email":       lead.Email,
		"address":     lead.Address,
		"external_id": lead.ExternalID,
		"notes":       lead.Notes,
	}
	for k, v := range optional {
		if v != "" {
			vars[k] = v
		}
	}
	return vars
}
