package intent

import (
	"github.com/kalambet/fitgate/internal/storage"
)

// Category is a domain class a query can be admitted under.
type Category string

const (
	Exercise        Category = "exercise"
	Nutrition       Category = "nutrition"
	Health          Category = "health"
	MentalHealth    Category = "mental_health"
	FormCorrection  Category = "form_correction"
	WorkoutPlanning Category = "workout_planning"
	Rejected        Category = "rejected"
)

// tieOrder is the fixed priority among categories with equal scores. It is
// also the closed set of categories a pattern file may define.
var tieOrder = []Category{Exercise, Nutrition, Health, MentalHealth, FormCorrection, WorkoutPlanning}

// priority returns c's index in tieOrder, or -1 for an unknown category.
func (c Category) priority() int {
	for i, t := range tieOrder {
		if t == c {
			return i
		}
	}
	return -1
}

// Default thresholds.
const (
	DefaultMinConfidence   = 0.3
	DefaultContinuityBonus = 0.15
	DefaultIntentBonus     = 0.1
)

// Options tunes admission. Zero values are not replaced with defaults, so a
// zero bonus disables that bonus.
type Options struct {
	MinConfidence   float64
	ContinuityBonus float64
	IntentBonus     float64
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MinConfidence:   DefaultMinConfidence,
		ContinuityBonus: DefaultContinuityBonus,
		IntentBonus:     DefaultIntentBonus,
	}
}

// Classification is the outcome of classifying one query.
type Classification struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Admitted   bool     `json:"admitted"`
	Matched    []string `json:"matched,omitempty"`
}

// Classifier decides whether a query belongs to the accepted domain. It
// holds no mutable state and is safe for concurrent use.
type Classifier struct {
	set  *PatternSet
	opts Options
}

// New creates a Classifier over the given pattern set.
func New(set *PatternSet, opts Options) *Classifier {
	return &Classifier{set: set, opts: opts}
}

// Classify scores text against every category and decides admission. The
// window is the user's recent history, oldest first; only the last entry is
// consulted for topic continuity.
func (c *Classifier) Classify(text string, window []storage.Interaction) Classification {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return Classification{Category: Rejected}
	}

	var (
		best        Category
		bestScore   float64
		bestMatched []string
	)
	for _, cat := range c.set.categories {
		var matched []string
		for _, p := range cat.patterns {
			if p.matches(tokens) {
				matched = append(matched, p.text)
			}
		}
		score := min(float64(len(matched))/cat.normalizer, 1.0)
		// Strict comparison keeps the earlier category on ties.
		if score > bestScore {
			best, bestScore, bestMatched = cat.name, score, matched
		}
	}

	if bestScore == 0 {
		return Classification{Category: Rejected}
	}

	confidence := bestScore
	if n := len(window); n > 0 && Category(window[n-1].Category) == best {
		confidence += c.opts.ContinuityBonus
	}
	if c.hasIntentPhrase(tokens) {
		confidence += c.opts.IntentBonus
	}
	confidence = min(confidence, 1.0)

	if confidence < c.opts.MinConfidence {
		return Classification{Category: Rejected, Confidence: confidence, Matched: bestMatched}
	}
	return Classification{
		Category:   best,
		Confidence: confidence,
		Admitted:   true,
		Matched:    bestMatched,
	}
}

func (c *Classifier) hasIntentPhrase(tokens []string) bool {
	for _, p := range c.set.intent {
		if p.matches(tokens) {
			return true
		}
	}
	return false
}
