package queue

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/dialq/internal/voice"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrProviderNotConfigured is returned by Enqueue when the owner cannot
	// dial yet. It matches voice.ErrUnauthenticated under errors.Is.
	ErrProviderNotConfigured = fmt.Errorf("%w: complete voice agent setup before calling", voice.ErrUnauthenticated)
)
