package queue

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/dialq/pkg/models"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// normalizeLeads validates the submitted batch and returns a trimmed copy
// with phone numbers in E.164 form. The caller's slice is not modified.
func normalizeLeads(leads []models.Lead, maxLeads int) ([]models.Lead, error) {
	if len(leads) == 0 {
		return nil, fmt.Errorf("%w: at least one lead is required", ErrInvalidInput)
	}
	if maxLeads > 0 && len(leads) > maxLeads {
		return nil, fmt.Errorf("%w: at most %d leads per job, got %d", ErrInvalidInput, maxLeads, len(leads))
	}

	out := make([]models.Lead, len(leads))
	for i, l := range leads {
		l.FirstName = strings.TrimSpace(l.FirstName)
		l.LastName = strings.TrimSpace(l.LastName)
		l.Email = strings.TrimSpace(l.Email)
		l.Address = strings.TrimSpace(l.Address)
		l.ExternalID = strings.TrimSpace(l.ExternalID)

		if l.FirstName == "" {
			return nil, fmt.Errorf("%w: lead %d: first_name is required", ErrInvalidInput, i)
		}
		if strings.TrimSpace(l.Phone) == "" {
			return nil, fmt.Errorf("%w: lead %d: phone is required", ErrInvalidInput, i)
		}
		phone, err := NormalizePhone(l.Phone)
		if err != nil {
			return nil, fmt.Errorf("%w: lead %d: %v", ErrInvalidInput, i, err)
		}
		l.Phone = phone
		out[i] = l
	}
	return out, nil
}

// NormalizePhone converts a dialable number to E.164. Spaces, dashes, dots
// and parentheses are dropped; a leading "00" is read as "+". Numbers
// without a country code are rejected.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	if !strings.HasPrefix(s, "+") {
		return "", fmt.Errorf("phone %q must include a country code (e.g. +15551234567)", raw)
	}

	var b strings.Builder
	b.WriteByte('+')
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("phone %q contains invalid character %q", raw, r)
		}
	}

	digits := b.Len() - 1
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", fmt.Errorf("phone %q must have %d-%d digits", raw, minPhoneDigits, maxPhoneDigits)
	}
	if b.String()[1] == '0' {
		return "", fmt.Errorf("phone %q has an invalid country code", raw)
	}
	return b.String(), nil
}
