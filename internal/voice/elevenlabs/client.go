// Package elevenlabs places outbound calls through the ElevenLabs
// conversational-AI API, which bridges the agent onto a Twilio number.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/dialq/internal/config"
	"github.com/kiranshivaraju/dialq/internal/voice"
	"golang.org/x/time/rate"
)

const outboundCallPath = "/v1/convai/twilio/outbound-call"

// maxErrorBody caps how much of an error response is echoed into errors.
const maxErrorBody = 1024

// Client implements voice.Gateway using the ElevenLabs HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new ElevenLabs client. Calls are throttled to
// cfg.CallsPerSec with bursts of cfg.Burst across all jobs in this process.
func NewClient(cfg config.VoiceConfig) *Client {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.CallsPerSec), burst),
	}
}

func (c *Client) Name() string { return "elevenlabs" }

func (c *Client) PlaceCall(ctx context.Context, req voice.CallRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", voice.Transient(fmt.Errorf("waiting for call slot: %w", err))
	}

	body, err := json.Marshal(outboundCallRequest{
		AgentID:            req.AgentID,
		AgentPhoneNumberID: req.PhoneNumberID,
		ToNumber:           req.ToNumber,
		InitiationData: initiationData{
			DynamicVariables: req.Variables,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+outboundCallPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var out outboundCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", voice.ErrProviderUnavailable, err)
	}
	if !out.Success {
		return "", fmt.Errorf("%w: %s", voice.ErrProviderRejected, out.Message)
	}
	// The call may be ringing with no id to correlate, so never redial.
	if out.ConversationID == "" {
		return "", fmt.Errorf("%w: accepted call has no conversation id", voice.ErrProviderUnavailable)
	}

	return out.ConversationID, nil
}

// statusError maps a non-200 response to a gateway sentinel. 429 and the
// gateway-level 5xx codes mean the call was not placed and may be retried;
// a bare 500 may have dialed already.
func statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", voice.ErrUnauthenticated, msg)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return voice.Transient(errors.New(msg))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", voice.ErrProviderUnavailable, msg)
	default:
		return fmt.Errorf("%w: %s", voice.ErrProviderRejected, msg)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", voice.ErrProviderTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", voice.ErrProviderTimeout, err)
	}

	// A failed dial never reached the provider.
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return voice.Transient(err)
	}

	return fmt.Errorf("%w: %v", voice.ErrProviderUnavailable, err)
}

// --- ElevenLabs wire types ---

type outboundCallRequest struct {
	AgentID            string         `json:"agent_id"`
	AgentPhoneNumberID string         `json:"agent_phone_number_id"`
	ToNumber           string         `json:"to_number"`
	InitiationData     initiationData `json:"conversation_initiation_client_data"`
}

type initiationData struct {
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type outboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// Compile-time check that Client implements Gateway.
var _ voice.Gateway = (*Client)(nil)
