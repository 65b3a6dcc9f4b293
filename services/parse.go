package services

import (
	"regexp"
	"strings"
)

// ParsedResponse holds the optional structured sections of a coach reply.
// A nil slice means the section was not present; an empty slice means the
// section was present without any bullet lines.
type ParsedResponse struct {
	Insights         []string
	SuggestedValues  []string
	SuggestedActions []string
}

// Each section runs from its header to the next "###" or the end of text.
var (
	insightsSection = regexp.MustCompile(`(?is)###\s*INSIGHTS\s*(.*?)(?:###|\z)`)
	valuesSection   = regexp.MustCompile(`(?is)###\s*(?:SUGGESTED\s*)?VALUES\s*(.*?)(?:###|\z)`)
	actionsSection  = regexp.MustCompile(`(?is)###\s*(?:SUGGESTED\s*)?ACTIONS\s*(.*?)(?:###|\z)`)
)

// ParseAIResponse extracts the INSIGHTS, VALUES and ACTIONS sections from a
// coach reply. Parsing is best effort: missing headers are the common case
// and are not errors.
func ParseAIResponse(text string) ParsedResponse {
	return ParsedResponse{
		Insights:         extractSection(insightsSection, text),
		SuggestedValues:  extractSection(valuesSection, text),
		SuggestedActions: extractSection(actionsSection, text),
	}
}

func extractSection(re *regexp.Regexp, text string) []string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	items := []string{}
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		items = append(items, strings.TrimSpace(strings.TrimPrefix(line, "-")))
	}
	return items
}
