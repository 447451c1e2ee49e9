package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/consultmesh/aggregate"
	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/evaluation"
	"github.com/hupe1980/consultmesh/memory"
	"github.com/hupe1980/consultmesh/scheduler"
)

// DefaultSynthesisTemplate is the prompt of the closing synthesis call. It is
// rendered with SynthesisData.
const DefaultSynthesisTemplate = `Based on the following ethics consultation, write the final consensus.

Case:
{{ indent 2 .Case }}

Latest contributions:
{{- range .Contributions }}
- {{ .Name }} (round {{ .Round }}{{ if .Stance }}, {{ .Stance }}{{ end }}):
{{ indent 4 .Text }}
{{- end }}
{{- if .Principles }}

Principles mentioned: {{ join ", " .Principles }}
{{- end }}

Answer with these sections:
Summary: the ethical dilemma in a few sentences
Recommendation: the recommended approach and its justification
Considerations:
- one consideration for implementation per line
Confidence: high | medium | low`

const synthesisSystemPrompt = "You facilitate an ethics consultation. Summarize the participants' positions faithfully and do not add new arguments."

// defaultAgentConfidence is used when no role reported a stance.
const defaultAgentConfidence = 0.7

// SynthesisData is the data available to the synthesis template.
type SynthesisData struct {
	Case          string
	Contributions []memory.Entry
	Principles    []string
}

// synthesize issues the closing synthesis call. ok is false when no call was
// attempted: nothing to synthesize, budget spent or session context done.
func (e *Engine) synthesize(ctx context.Context, r *run) (fc core.FinalConsensus, ok bool) {
	rounds := r.sess.Rounds()

	latest := latestTurns(rounds, r.roles)
	if len(latest) == 0 {
		return fc, false
	}
	if r.tracker.Exceeded() {
		e.opts.Logger.Warn("engine.synthesis.skipped", "session", r.sess.ID, "reason", string(core.AbortBudgetExceeded))
		return fc, false
	}
	if err := ctx.Err(); err != nil {
		e.opts.Logger.Warn("engine.synthesis.skipped", "session", r.sess.ID, "reason", err)
		return fc, false
	}

	ctx, span := e.opts.Tracer.Start(ctx, "engine.synthesis", trace.WithAttributes(
		attribute.String("consult.session", r.sess.ID),
		attribute.Int("consult.contributions", len(latest)),
	))
	defer span.End()

	if e.opts.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RoundTimeout)
		defer cancel()
	}

	names := make(map[string]string, len(r.roles))
	for _, role := range r.roles {
		names[role.ID] = role.Name
	}
	texts := make([]string, len(latest))
	for i, t := range latest {
		texts[i] = t.Text
	}

	data := SynthesisData{
		Case:          r.sess.CaseText,
		Contributions: memory.Entries(latest, names, e.opts.MaxHistoryChars),
		Principles:    evaluation.DetectPrinciples(strings.Join(texts, "\n")),
	}
	fc.Principles = data.Principles

	prompt, err := e.synthesis.Render(data)
	if err != nil {
		fc.Error = "render synthesis prompt: " + err.Error()
		e.opts.Logger.Error("engine.prompt.failed", "session", r.sess.ID, "role", core.SynthesisRoleID, "error", err)
		span.SetStatus(codes.Error, fc.Error)
		return fc, true
	}

	req := core.Request{
		RoleID: core.SynthesisRoleID,
		Round:  len(rounds),
		System: synthesisSystemPrompt,
		Prompt: prompt,
		Params: e.opts.Parameters,
	}
	out := r.sched.Submit(ctx, []scheduler.Item{{Request: req}})[0]

	fc.Attempts = out.Attempts
	fc.Usage = out.Usage

	if out.Status != core.OutcomeOK || out.Response == nil {
		fc.Error = "synthesis " + string(out.Status)
		if out.Err != nil {
			fc.Error = out.Err.Error()
		}
		span.SetStatus(codes.Error, fc.Error)
		e.opts.Logger.Warn("engine.synthesis.failed", "session", r.sess.ID, "attempts", out.Attempts, "error", fc.Error)
		return fc, true
	}

	parsed, c, found := parseSynthesis(out.Response.Text)
	parsed.Text = out.Response.Text
	parsed.Principles = fc.Principles
	parsed.Attempts = fc.Attempts
	parsed.Usage = fc.Usage
	parsed.Confidence = blendConfidence(c, found, latest)

	span.SetAttributes(attribute.Float64("consult.synthesis.confidence", parsed.Confidence))
	e.opts.Logger.Info("engine.synthesis.complete", "session", r.sess.ID,
		"confidence", parsed.Confidence, "considerations", len(parsed.Considerations))

	return parsed, true
}

// latestTurns returns the most recent ok turn of every role, in role order.
// Roles that never answered are left out.
func latestTurns(rounds []core.Round, roles []core.Role) []core.Turn {
	var out []core.Turn
	for _, role := range roles {
		for i := len(rounds) - 1; i >= 0; i-- {
			if t, ok := rounds[i].Turn(role.ID); ok && t.OK() {
				out = append(out, t)
				break
			}
		}
	}

	return out
}

// blendConfidence averages the synthesis confidence with the mean stance
// confidence of the contributions. Without a synthesis confidence the mean is
// used alone.
func blendConfidence(c float64, found bool, turns []core.Turn) float64 {
	var (
		sum float64
		n   int
	)
	for _, t := range turns {
		if t.Stance != nil {
			sum += t.Stance.Confidence
			n++
		}
	}

	mean := defaultAgentConfidence
	if n > 0 {
		mean = sum / float64(n)
	}
	if !found {
		return mean
	}

	return (c + mean) / 2
}

// parseSynthesis reads Summary, Recommendation, Considerations and Confidence
// sections. When neither a summary nor a recommendation is found, the whole
// text becomes the recommendation.
func parseSynthesis(text string) (fc core.FinalConsensus, confidence float64, found bool) {
	var (
		section       string
		summary, recs []string
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			if section != "considerations" {
				section = ""
			}
			continue
		}

		if key, value, ok := synthesisField(line); ok {
			section = key
			switch key {
			case "summary":
				summary = appendNonEmpty(summary, value)
			case "recommendation":
				recs = appendNonEmpty(recs, value)
			case "considerations":
				fc.Considerations = appendNonEmpty(fc.Considerations, value)
			case "confidence":
				confidence, found = aggregate.ParseConfidence(value)
				section = ""
			}
			continue
		}

		switch section {
		case "summary":
			summary = append(summary, line)
		case "recommendation":
			recs = append(recs, line)
		case "considerations":
			fc.Considerations = appendNonEmpty(fc.Considerations, listItem(line))
		}
	}

	fc.Summary = strings.Join(summary, " ")
	fc.Recommendation = strings.Join(recs, " ")
	if fc.Summary == "" && fc.Recommendation == "" {
		fc.Recommendation = strings.TrimSpace(text)
	}

	return fc, confidence, found
}

var synthesisKeys = map[string]string{
	"summary":                        "summary",
	"summary of the ethical dilemma": "summary",
	"recommendation":                 "recommendation",
	"recommendations":                "recommendation",
	"recommended approach":           "recommendation",
	"considerations":                 "considerations",
	"key considerations":             "considerations",
	"additional considerations":      "considerations",
	"confidence":                     "confidence",
	"confidence level":               "confidence",
}

// synthesisField splits "Key: value" lines, tolerating markdown emphasis,
// headings and ordinal prefixes such as "1.".
func synthesisField(line string) (key, value string, ok bool) {
	clean := listItem(strings.TrimLeft(line, "#> "))

	i := strings.Index(clean, ":")
	if i < 0 {
		return "", "", false
	}

	key, ok = synthesisKeys[strings.ToLower(strings.Trim(clean[:i], "*_ "))]
	if !ok {
		return "", "", false
	}

	return key, strings.TrimSpace(strings.Trim(clean[i+1:], "*_ ")), true
}

// listItem strips a leading bullet or ordinal marker.
func listItem(line string) string {
	s := strings.TrimLeft(line, "-*• ")

	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(s) && (s[digits] == '.' || s[digits] == ')') {
		s = s[digits+1:]
	}

	return strings.TrimSpace(s)
}

func appendNonEmpty(list []string, s string) []string {
	if s == "" {
		return list
	}

	return append(list, s)
}
