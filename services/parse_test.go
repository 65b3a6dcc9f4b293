package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAIResponse_NoHeaders(t *testing.T) {
	t.Parallel()

	text := "Tell me more about what happened yesterday.\n- not a section bullet"
	got := ParseAIResponse(text)

	assert.Nil(t, got.Insights)
	assert.Nil(t, got.SuggestedValues)
	assert.Nil(t, got.SuggestedActions)
	assert.Equal(t, got, ParseAIResponse(text))
}

func TestParseAIResponse_BulletsOnly(t *testing.T) {
	t.Parallel()

	got := ParseAIResponse("### INSIGHTS\n- a\n- b\nnotes\n### VALUES\n- c")

	assert.Equal(t, []string{"a", "b"}, got.Insights)
	assert.Equal(t, []string{"c"}, got.SuggestedValues)
	assert.Nil(t, got.SuggestedActions)
}

func TestParseAIResponse_SuggestedHeadersCaseInsensitive(t *testing.T) {
	t.Parallel()

	text := "Great work today.\n\n### Suggested Values\n-   Courage  \n  - Rest\n\n### suggested actions\n- Walk after lunch\r\n- Call Sam\n"
	got := ParseAIResponse(text)

	assert.Nil(t, got.Insights)
	assert.Equal(t, []string{"Courage", "Rest"}, got.SuggestedValues)
	assert.Equal(t, []string{"Walk after lunch", "Call Sam"}, got.SuggestedActions)
}

func TestParseAIResponse_PresentButEmptySection(t *testing.T) {
	t.Parallel()

	got := ParseAIResponse("### INSIGHTS\nnothing yet\n### ACTIONS\n- breathe")

	assert.NotNil(t, got.Insights)
	assert.Empty(t, got.Insights)
	assert.Equal(t, []string{"breathe"}, got.SuggestedActions)
}
