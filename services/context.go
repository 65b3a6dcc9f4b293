package services

import (
	"math"
	"strconv"
	"strings"

	"identityforge/models"

	"github.com/google/uuid"
)

// ConversationContext is everything the coach knows about a user for one
// call. It is rebuilt from the database on every request and never stored.
type ConversationContext struct {
	UserID           uuid.UUID
	ConversationID   uuid.UUID
	ConversationType models.ConversationType
	PreviousMessages []models.Message

	// Beliefs take precedence over UserValues and UserIdentity
	Beliefs      []models.Belief
	UserValues   []string
	UserIdentity string

	RecentEntries       []models.DailyEntry
	PersonalityInsights []string
}

// ChatMessage is a transcript entry in the upstream wire format
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildSystemPrompt assembles the system prompt for a conversation type
// from the coaching script and whatever user context is available. The
// result depends only on its arguments.
func BuildSystemPrompt(conversationType models.ConversationType, cc *ConversationContext) string {
	var b strings.Builder
	b.WriteString(basePrompt(conversationType))
	if cc == nil {
		return b.String()
	}

	if len(cc.Beliefs) > 0 {
		var values, identity, empowering, limiting []string
		for _, belief := range cc.Beliefs {
			switch {
			case belief.Type == "VALUE":
				values = append(values, belief.Statement)
			case strings.HasPrefix(belief.Type, "IDENTITY_"):
				identity = append(identity, belief.Statement)
			case belief.Type == "EMPOWERING":
				empowering = append(empowering, belief.Statement)
			case belief.Type == "LIMITING":
				limiting = append(limiting, belief.Statement)
			}
		}
		writeBullets(&b, "User's Value Beliefs", values)
		writeBullets(&b, "User's Identity Beliefs", identity)
		writeBullets(&b, "User's Empowering Beliefs", empowering)
		writeBullets(&b, "User's Limiting Beliefs (to explore)", limiting)
	} else {
		if len(cc.UserValues) > 0 {
			writeSection(&b, "User's Values", strings.Join(cc.UserValues, ", "))
		}
		if cc.UserIdentity != "" {
			writeSection(&b, "User's Identity Statement", cc.UserIdentity)
		}
	}

	if len(cc.RecentEntries) > 0 {
		energy, alignment := averageScores(cc.RecentEntries)
		writeSection(&b, "Recent Energy & Alignment",
			"Average energy: "+oneDecimal(energy)+"/10\nAverage alignment: "+oneDecimal(alignment)+"/10")
	}

	if len(cc.PersonalityInsights) > 0 {
		writeSection(&b, "Personality Insights", strings.Join(cc.PersonalityInsights, "\n"))
	}

	return b.String()
}

// FormatMessagesForAPI converts stored messages to the upstream transcript.
// SYSTEM messages are dropped; order is preserved.
func FormatMessagesForAPI(messages []models.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages)+1)
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			continue
		case models.RoleAssistant:
			out = append(out, ChatMessage{Role: "assistant", Content: msg.Content})
		default:
			out = append(out, ChatMessage{Role: "user", Content: msg.Content})
		}
	}
	return out
}

func writeSection(b *strings.Builder, title, body string) {
	b.WriteString("\n\n## ")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(body)
}

func writeBullets(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	writeSection(b, title, strings.Join(lines, "\n"))
}

// averageScores returns the mean energy and alignment, counting missing
// samples as zero
func averageScores(entries []models.DailyEntry) (energy, alignment float64) {
	var energySum, alignmentSum int
	for _, e := range entries {
		if e.EnergyLevel != nil {
			energySum += *e.EnergyLevel
		}
		if e.AlignmentScore != nil {
			alignmentSum += *e.AlignmentScore
		}
	}
	n := float64(len(entries))
	return float64(energySum) / n, float64(alignmentSum) / n
}

// oneDecimal formats v with one decimal place, rounding halves away from zero
func oneDecimal(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', 1, 64)
}
