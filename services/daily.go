package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"identityforge/models"
)

// DailyPromptOptions is the user context for a morning or evening prompt
type DailyPromptOptions struct {
	IsMorning         bool
	UserValues        []string
	UserIdentity      string
	PreviousEnergy    *int
	PreviousAlignment *int
}

// DailyReflectionInput is a finished daily entry to reflect on
type DailyReflectionInput struct {
	MorningResponse *string
	EveningResponse *string
	EnergyLevel     *int
	AlignmentScore  *int
	UserValues      []string
}

// Pattern is one observation from pattern analysis
type Pattern struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// PatternAnalysis is the structured result of AnalyzePatterns
type PatternAnalysis struct {
	Summary         string    `json:"summary"`
	Patterns        []Pattern `json:"patterns"`
	Recommendations []string  `json:"recommendations"`
}

// GenerateDailyPrompt asks the coach for a one or two sentence journaling prompt
func (s *OpenRouterService) GenerateDailyPrompt(ctx context.Context, opts DailyPromptOptions) (string, error) {
	return s.complete(ctx, "daily_prompt", []ChatMessage{
		{Role: "user", Content: buildDailyPrompt(opts)},
	}, 500, 0.5)
}

// GenerateDailyReflection asks the coach for a short reflection on a day's entry
func (s *OpenRouterService) GenerateDailyReflection(ctx context.Context, in DailyReflectionInput) (string, error) {
	return s.complete(ctx, "daily_reflection", []ChatMessage{
		{Role: "user", Content: buildReflectionPrompt(in)},
	}, 500, 0.5)
}

// AnalyzePatterns asks the coach to find patterns across daily entries
func (s *OpenRouterService) AnalyzePatterns(ctx context.Context, entries []models.DailyEntry, values []string) (*PatternAnalysis, error) {
	text, err := s.complete(ctx, "analyze_patterns", []ChatMessage{
		{Role: "user", Content: buildPatternPrompt(entries, values)},
	}, 2000, 0.3)
	if err != nil {
		return nil, err
	}
	return parsePatternAnalysis(text)
}

func buildDailyPrompt(opts DailyPromptOptions) string {
	var ctxInfo strings.Builder

	if opts.IsMorning {
		if v := opts.PreviousEnergy; v != nil && *v != 0 {
			fmt.Fprintf(&ctxInfo, "\n\nYesterday's energy level: %d/10", *v)
		}
		if v := opts.PreviousAlignment; v != nil && *v != 0 {
			fmt.Fprintf(&ctxInfo, "\nYesterday's alignment: %d/10", *v)
		}
		if len(opts.UserValues) > 0 {
			top := opts.UserValues
			if len(top) > 3 {
				top = top[:3]
			}
			ctxInfo.WriteString("\nYour top values: " + strings.Join(top, ", "))
		}
		if opts.UserIdentity != "" {
			ctxInfo.WriteString("\nYour identity: " + opts.UserIdentity)
		}

		return `Generate a brief (1-2 sentences) morning prompt for daily reflection.

Context:` + ctxInfo.String() + `

The prompt should:
- Be simple and actionable
- Reference their values or identity if available
- Be appropriate for their energy level if known
- Be welcoming and non-judgmental

Just return the prompt, nothing else.`
	}

	if len(opts.UserValues) > 0 {
		ctxInfo.WriteString("\nYour values: " + strings.Join(opts.UserValues, ", "))
	}

	return `Generate a brief (1-2 sentences) evening prompt for daily reflection.

Context:` + ctxInfo.String() + `

The prompt should:
- Help them reflect on how the day went
- Connect to their values
- Be supportive and non-judgmental
- Acknowledge any energy level

Just return the prompt, nothing else.`
}

func buildReflectionPrompt(in DailyReflectionInput) string {
	var c strings.Builder
	if in.MorningResponse != nil && *in.MorningResponse != "" {
		fmt.Fprintf(&c, "Morning entry: %q\n", *in.MorningResponse)
	}
	if in.EveningResponse != nil && *in.EveningResponse != "" {
		fmt.Fprintf(&c, "Evening entry: %q\n", *in.EveningResponse)
	}
	if in.EnergyLevel != nil && *in.EnergyLevel != 0 {
		fmt.Fprintf(&c, "Energy level: %d/10\n", *in.EnergyLevel)
	}
	if in.AlignmentScore != nil && *in.AlignmentScore != 0 {
		fmt.Fprintf(&c, "Alignment score: %d/10\n", *in.AlignmentScore)
	}
	if len(in.UserValues) > 0 {
		c.WriteString("User values: " + strings.Join(in.UserValues, ", ") + "\n")
	}

	return `Generate a brief (2-3 sentences) AI reflection based on the daily entry.

Context:
` + c.String() + `
The reflection should:
- Acknowledge something specific they shared
- Connect to their values if possible
- Offer gentle, non-judgmental observation
- Be warm and supportive

Just return the reflection, nothing else.`
}

func buildPatternPrompt(entries []models.DailyEntry, values []string) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("Date: %s, Energy: %s, Alignment: %s",
			e.Date.UTC().Format("2006-01-02"), scoreOrNA(e.EnergyLevel), scoreOrNA(e.AlignmentScore))
	}

	return `Analyze the following daily entries for patterns:

Entries:
` + strings.Join(lines, "\n") + `

User values: ` + strings.Join(values, ", ") + `

Identify:
1. Temporal patterns (day of week, time of day effects)
2. Energy patterns (what correlates with high/low energy)
3. Alignment patterns (what correlates with high/low alignment)
4. Any other notable patterns

Provide a JSON response with this structure:
{
  "summary": "2-3 sentence summary of overall patterns",
  "patterns": [
    { "type": "TEMPORAL|BEHAVIORAL|EMOTIONAL|VALUES", "description": "...", "confidence": 0.0-1.0 }
  ],
  "recommendations": ["recommendation 1", "recommendation 2", "recommendation 3"]
}

Just return valid JSON, no other text.`
}

func scoreOrNA(v *int) string {
	if v == nil || *v == 0 {
		return "N/A"
	}
	return strconv.Itoa(*v)
}

// parsePatternAnalysis decodes the model's JSON, tolerating a markdown
// code fence around it
func parsePatternAnalysis(text string) (*PatternAnalysis, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(body, "```")
		body = strings.TrimSpace(body)
	}

	var out PatternAnalysis
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("failed to parse pattern analysis: %w", err)
	}
	if out.Patterns == nil {
		out.Patterns = []Pattern{}
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	return &out, nil
}
