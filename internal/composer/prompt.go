package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/fitgate/internal/engine"
	"github.com/kalambet/fitgate/internal/intent"
	"github.com/kalambet/fitgate/internal/storage"
)

const defaultMaxContextTokens = 4000

// RejectionMessage is returned for queries outside the accepted domain.
const RejectionMessage = "I'm specialized in fitness, health, nutrition, and mental wellness. " +
	"Please ask me questions related to these topics, and I'll be happy to help!"

const baseInstruction = "Provide helpful, accurate, and encouraging advice. Always prioritize safety " +
	"and recommend consulting healthcare professionals when appropriate. Decline questions unrelated " +
	"to fitness, nutrition, health, or mental wellness."

var instructions = map[intent.Category]string{
	intent.Exercise: `You are a specialized fitness assistant with expertise in:
- Exercise selection and technique
- Strength, hypertrophy, and endurance training
- Cardio and conditioning
- Injury prevention during training`,
	intent.Nutrition: `You are a specialized nutrition assistant with expertise in:
- Meal planning and healthy eating
- Macronutrients, micronutrients, and hydration
- Weight management and body composition
- Fueling for training and recovery`,
	intent.Health: `You are a specialized health and wellness assistant with expertise in:
- Sleep, stress, and recovery
- Common training injuries and pain management
- Heart health, blood pressure, and metabolic health
- When to seek professional medical care`,
	intent.MentalHealth: `You are a specialized mental health support assistant with expertise in:
- Anxiety and stress management
- Depression support and coping strategies
- Self-esteem, confidence, and motivation
- Mindfulness and relaxation techniques
- The connection between exercise and mental health
Always emphasize that you are not a replacement for professional mental health care and include crisis resources when appropriate.`,
	intent.FormCorrection: `You are a specialized movement coach with expertise in:
- Exercise form and technique cues
- Posture, alignment, and bracing
- Mobility, flexibility, and range of motion
- Common technique faults and how to fix them`,
	intent.WorkoutPlanning: `You are a specialized programming coach with expertise in:
- Training programs, splits, and routines
- Progression and periodization
- Volume, intensity, and frequency
- Scheduling rest and recovery days`,
}

// Composer turns a classified query and the user's context window into a
// provider request.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for the replayed
// context window. If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// SystemPrompt returns the instruction for a category.
func SystemPrompt(cat intent.Category) string {
	head, ok := instructions[cat]
	if !ok {
		head = "You are a specialized fitness, nutrition, health, and mental wellness assistant."
	}
	return head + "\n\n" + baseInstruction
}

// Compose builds the request for text: the category instruction as system
// message, the window replayed as alternating user/assistant turns, then
// the query. When the window does not fit the budget the oldest
// interactions are dropped first.
func (c *Composer) Compose(cat intent.Category, window []storage.Interaction, text string) engine.Request {
	system := SystemPrompt(cat)
	remaining := c.MaxContextTokens - EstimateTokens(system) - EstimateTokens(text)

	// Walk newest to oldest so the most recent turns survive the budget.
	start := len(window)
	for i := len(window) - 1; i >= 0; i-- {
		tokens := EstimateTokens(window[i].Query) + EstimateTokens(window[i].Answer)
		if tokens > remaining {
			break
		}
		remaining -= tokens
		start = i
	}

	msgs := make([]engine.Message, 0, 2*(len(window)-start)+1)
	for _, in := range window[start:] {
		msgs = append(msgs,
			engine.Message{Role: engine.RoleUser, Content: in.Query},
			engine.Message{Role: engine.RoleAssistant, Content: in.Answer},
		)
	}
	msgs = append(msgs, engine.Message{Role: engine.RoleUser, Content: text})

	return engine.Request{System: system, Messages: msgs}
}

// Summarize renders a window as a short plain-text transcript, newest last.
// Used by surfaces that show history to people rather than models.
func Summarize(window []storage.Interaction) string {
	var sb strings.Builder
	for _, in := range window {
		fmt.Fprintf(&sb, "[%s] %s\n  -> %s\n", in.Category, in.Query, firstLine(in.Answer))
	}
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
