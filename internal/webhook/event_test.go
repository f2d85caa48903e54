package webhook

import (
	"testing"

	"github.com/kiranshivaraju/dialq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_OutcomeVocabulary(t *testing.T) {
	tests := []struct {
		outcome string
		want    models.Outcome
	}{
		{"completed", models.OutcomeCompleted},
		{"answered", models.OutcomeCompleted},
		{"SUCCESS", models.OutcomeCompleted},
		{"done", models.OutcomeCompleted},
		{"failed", models.OutcomeFailed},
		{"no_answer", models.OutcomeFailed},
		{"no-answer", models.OutcomeFailed},
		{"busy", models.OutcomeFailed},
		{"error", models.OutcomeFailed},
		{"canceled", models.OutcomeFailed},
		{" cancelled ", models.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			e, err := ParseEvent([]byte(`{"conversation_id":"c1","outcome":"` + tt.outcome + `"}`))
			require.NoError(t, err)
			got, err := e.Result()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"no conversation": `{"outcome":"completed"}`,
		"unknown outcome": `{"conversation_id":"c1","outcome":"voicemail-ish"}`,
		"empty outcome":   `{"conversation_id":"c1"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestEvent_Detail(t *testing.T) {
	assert.Equal(t, "busy", Event{Outcome: "busy"}.Detail())
	assert.Equal(t, "line busy twice", Event{Outcome: "busy", Reason: "line busy twice"}.Detail())
}
