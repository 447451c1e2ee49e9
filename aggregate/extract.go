package aggregate

import (
	"math"
	"strconv"
	"strings"

	"github.com/hupe1980/consultmesh/core"
)

// StanceExtractor turns free response text into a structured stance.
// Extraction is best-effort; ok is false when no stance could be found.
type StanceExtractor interface {
	Extract(text string) (stance core.Stance, ok bool)
}

// StanceExtractorFunc adapts a function to StanceExtractor.
type StanceExtractorFunc func(text string) (core.Stance, bool)

// Extract implements StanceExtractor.
func (f StanceExtractorFunc) Extract(text string) (core.Stance, bool) { return f(text) }

const (
	// DefaultConfidence is assigned when a stance has no confidence line.
	DefaultConfidence = 0.5
	// unparsedConfidence is assigned when a confidence line is present but unreadable.
	unparsedConfidence = 0.7
)

type phrase struct {
	text  string
	label core.StanceLabel
}

// Longer phrases first so "strongly disagree" wins over "disagree".
var stancePhrases = []phrase{
	{"strongly support", core.StronglySupport},
	{"strongly oppose", core.StronglyOppose},
	{"strongly agree", core.StronglySupport},
	{"strongly disagree", core.StronglyOppose},
	{"strongly favor", core.StronglySupport},
	{"strongly against", core.StronglyOppose},
	{"in favor", core.Support},
	{"disagree", core.Oppose},
	{"against", core.Oppose},
	{"oppose", core.Oppose},
	{"reject", core.Oppose},
	{"support", core.Support},
	{"agree", core.Support},
	{"favor", core.Support},
	{"endorse", core.Support},
	{"neutral", core.Neutral},
	{"undecided", core.Neutral},
	{"uncertain", core.Neutral},
	{"mixed", core.Neutral},
}

var stanceKeys = []string{"stance", "position", "final stance", "overall stance"}

var confidenceWords = map[string]float64{"high": 0.9, "medium": 0.7, "moderate": 0.7, "low": 0.5}

// KeywordExtractor reads "Stance: <label>" and "Confidence: <value>" lines.
// Labels may be canonical names or common synonyms ("agree", "against").
// Confidence accepts "7/10", "80%", "0.8", "8" (read as out of 10) and the
// words high, medium and low; results are clamped to [0,1].
type KeywordExtractor struct{}

// NewKeywordExtractor returns the default line-oriented extractor.
func NewKeywordExtractor() *KeywordExtractor { return &KeywordExtractor{} }

// Extract implements StanceExtractor.
func (KeywordExtractor) Extract(text string) (core.Stance, bool) {
	var (
		label      core.StanceLabel
		found      bool
		confidence = DefaultConfidence
		seenConf   bool
	)

	for _, line := range strings.Split(text, "\n") {
		key, value, ok := splitField(line)
		if !ok {
			continue
		}

		switch {
		case !found && isStanceKey(key):
			label, found = ParseStance(value)
		case !seenConf && key == "confidence":
			seenConf = true
			if c, ok := ParseConfidence(value); ok {
				confidence = c
			} else {
				confidence = unparsedConfidence
			}
		}
	}

	if !found {
		return core.Stance{}, false
	}

	return core.Stance{Label: label, Confidence: confidence}, true
}

func isStanceKey(key string) bool {
	for _, k := range stanceKeys {
		if key == k {
			return true
		}
	}

	return false
}

// splitField splits "**Key:** value" into a normalized key and the raw value.
func splitField(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*#> "))
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}

	key = strings.ToLower(strings.Trim(line[:idx], "*_ "))
	value = strings.Trim(line[idx+1:], "*_ \t")

	return key, value, true
}

// ParseStance maps a label or synonym onto the ordinal scale. Only the start
// of value is inspected so trailing justification is ignored.
func ParseStance(value string) (core.StanceLabel, bool) {
	norm := strings.ToLower(strings.TrimSpace(value))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	norm = strings.Trim(strings.Join(strings.Fields(norm), " "), "*.\"'`[]()")

	for _, p := range stancePhrases {
		if strings.HasPrefix(norm, p.text) {
			return p.label, true
		}
	}

	return 0, false
}

// ParseConfidence reads a confidence value and clamps it to [0,1].
func ParseConfidence(value string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return 0, false
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		s = strings.Trim(fields[0], ".,;")
	}

	if c, ok := confidenceWords[s]; ok {
		return c, true
	}

	var c float64
	switch {
	case strings.Contains(s, "/"):
		parts := strings.SplitN(s, "/", 2)
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil || den == 0 {
			return 0, false
		}
		c = num / den
	case strings.HasSuffix(s, "%"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, false
		}
		c = v / 100
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		c = v
		if c > 1 {
			c /= 10
		}
	}

	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, false
	}

	return clamp01(c), true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}

	return v
}
