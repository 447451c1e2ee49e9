package evaluation

import (
	"strings"
)

// Principle is a key ethical principle with the phrases that signal it.
type Principle struct {
	Name     string
	Keywords []string
}

// KeyPrinciples are the principles principle coverage looks for.
var KeyPrinciples = []Principle{
	{"autonomy", []string{"autonomy", "self-determination", "informed consent"}},
	{"beneficence", []string{"beneficence", "best interest", "patient welfare"}},
	{"non-maleficence", []string{"non-maleficence", "harm", "do no harm"}},
	{"justice", []string{"justice", "fairness", "equity"}},
}

// Stakeholders are the parties stakeholder coverage looks for.
var Stakeholders = []string{"patient", "family", "medical team", "physician", "nurse", "hospital"}

var (
	reasoningTerms      = []string{"because", "therefore", "given that", "this implies", "consequently"}
	counterpointTerms   = []string{"however,", "on the other hand,"}
	nuanceTerms         = []string{"balance", "weigh", "consider", "tension", "dilemma"}
	actionTerms         = []string{"should", "recommend", "suggest", "propose", "step", "approach", "strategy"}
	implementationTerms = []string{"implement", "communicate", "discuss", "meeting", "schedule", "document"}
	processTerms        = []string{"first", "then", "next", "follow up", "review", "evaluate"}
)

// DetectPrinciples returns the key principles mentioned in text.
func DetectPrinciples(text string) []string {
	lower := strings.ToLower(text)

	var out []string
	for _, p := range KeyPrinciples {
		if containsAny(lower, p.Keywords) {
			out = append(out, p.Name)
		}
	}

	return out
}

// PrincipleCoverage is the share of key principles mentioned anywhere.
func PrincipleCoverage(in Input) float64 {
	return float64(len(in.Principles)) / float64(len(KeyPrinciples))
}

// ReasoningDepth rewards length, causal connectives, counterpoints, explicit
// ethical analysis and nuance in the final positions.
func ReasoningDepth(in Input) float64 {
	if in.Final == "" {
		return 0
	}
	text := strings.ToLower(in.Final)

	score := 0.0
	switch {
	case len(in.Final) > 500:
		score += 0.2
	case len(in.Final) > 200:
		score += 0.1
	}
	score += minf(0.3, float64(countTerms(text, reasoningTerms))*0.1)
	if containsAny(text, counterpointTerms) {
		score += 0.2
	}
	if strings.Contains(text, "ethical") && strings.Contains(text, "principle") {
		score += 0.1
	}
	score += minf(0.2, float64(countTerms(text, nuanceTerms))*0.05)

	return minf(1, score)
}

// EvidenceUse measures how many case facts (comma separated values of
// "Label: value" lines) the final positions reference.
func EvidenceUse(in Input) float64 {
	text := strings.ToLower(in.Final)

	var facts []string
	for _, line := range strings.Split(in.Transcript.CaseText, "\n") {
		idx := strings.Index(line, ":")
		if idx < 0 || strings.HasSuffix(strings.TrimSpace(line), ":") {
			continue
		}
		for _, term := range strings.Split(line[idx+1:], ",") {
			facts = append(facts, strings.ToLower(strings.TrimSpace(term)))
		}
	}

	referenced := 0
	for _, f := range facts {
		if len(f) > 5 && strings.Contains(text, f) {
			referenced++
		}
	}

	denom := float64(len(facts)) / 3
	if denom < 5 {
		denom = 5
	}

	return minf(1, float64(referenced)/denom)
}

// StakeholderCoverage is the share of stakeholders mentioned in the final positions.
func StakeholderCoverage(in Input) float64 {
	return float64(countTerms(strings.ToLower(in.Final), Stakeholders)) / float64(len(Stakeholders))
}

// Practicality rewards actionable, implementation and process language.
func Practicality(in Input) float64 {
	text := strings.ToLower(in.Final)
	a := float64(countTerms(text, actionTerms))
	i := float64(countTerms(text, implementationTerms))
	p := float64(countTerms(text, processTerms))

	return minf(1, (a*0.4+i*0.3+p*0.3)/5)
}

func countTerms(text string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			n++
		}
	}
	return n
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
