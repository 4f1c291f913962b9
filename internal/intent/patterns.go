package intent

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

type patternFile struct {
	Version    int `yaml:"version"`
	Categories []struct {
		Name       string   `yaml:"name"`
		Normalizer float64  `yaml:"normalizer"`
		Patterns   []string `yaml:"patterns"`
	} `yaml:"categories"`
	IntentPhrases []string `yaml:"intent_phrases"`
}

type category struct {
	name       Category
	normalizer float64
	patterns   []pattern
}

type pattern struct {
	text   string
	tokens []string
}

// PatternSet is a parsed, normalized classifier pattern file. It is
// immutable once loaded and safe to share.
type PatternSet struct {
	Version    int
	categories []category
	intent     []pattern
}

// Categories returns the category names in tie-break order.
func (p *PatternSet) Categories() []Category {
	out := make([]Category, len(p.categories))
	for i, c := range p.categories {
		out[i] = c.name
	}
	return out
}

// DefaultPatterns parses the embedded pattern set.
func DefaultPatterns() (*PatternSet, error) {
	return ParsePatterns(defaultPatterns)
}

// LoadPatternsFile parses a pattern set from disk.
func LoadPatternsFile(path string) (*PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patterns file: %w", err)
	}
	return ParsePatterns(data)
}

// ParsePatterns parses YAML pattern data and normalizes every pattern.
func ParsePatterns(data []byte) (*PatternSet, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing patterns: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("parsing patterns: no categories defined")
	}

	set := &PatternSet{Version: f.Version}
	seen := make(map[string]bool)
	for _, c := range f.Categories {
		if Category(c.Name).priority() < 0 {
			return nil, fmt.Errorf("parsing patterns: unknown category %q", c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("parsing patterns: duplicate category %q", c.Name)
		}
		seen[c.Name] = true
		if c.Normalizer <= 0 {
			return nil, fmt.Errorf("parsing patterns: category %q needs a positive normalizer", c.Name)
		}
		cat := category{name: Category(c.Name), normalizer: c.Normalizer}
		cat.patterns = compile(c.Patterns)
		if len(cat.patterns) == 0 {
			return nil, fmt.Errorf("parsing patterns: category %q has no patterns", c.Name)
		}
		set.categories = append(set.categories, cat)
	}
	// Ties are decided by the fixed category priority, whatever the file order.
	sort.Slice(set.categories, func(i, j int) bool {
		return set.categories[i].name.priority() < set.categories[j].name.priority()
	})
	set.intent = compile(f.IntentPhrases)
	return set, nil
}

// compile normalizes raw patterns, dropping blanks and duplicates.
func compile(raw []string) []pattern {
	var out []pattern
	seen := make(map[string]bool)
	for _, r := range raw {
		n := Normalize(r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, pattern{text: n, tokens: Tokens(n)})
	}
	return out
}

// matches reports whether p occurs as consecutive tokens in text. A text
// token also matches its pattern token when it is the simple plural.
func (p pattern) matches(text []string) bool {
	k := len(p.tokens)
	for i := 0; i+k <= len(text); i++ {
		ok := true
		for j := 0; j < k; j++ {
			if !tokenMatch(text[i+j], p.tokens[j]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func tokenMatch(tok, pat string) bool {
	return tok == pat || tok == pat+"s" || tok == pat+"es"
}
