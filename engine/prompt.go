package engine

import (
	"strings"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/internal/util"
	"github.com/hupe1980/consultmesh/memory"
)

// DefaultPromptTemplate is the user prompt sent to each role every round.
// It is rendered with PromptData.
const DefaultPromptTemplate = `You are taking part in a structured ethics consultation as {{ .Role.Name }}.
{{- if .Role.StakeholderPerspective }}
Your perspective: {{ .Role.StakeholderPerspective }}
{{- end }}
{{- if .Role.Expertise }}
Your expertise: {{ join ", " .Role.Expertise }}
{{- end }}

This is round {{ .Round }} of {{ .MaxRounds }}. Participants: {{ join ", " .Participants }}.

Case:
{{ indent 2 .Case }}
{{- if .History }}

Recent contributions:
{{- range .History }}
- {{ .Name }} (round {{ .Round }}{{ if .Stance }}, {{ .Stance }}{{ end }}):
{{ indent 4 .Text }}
{{- end }}
{{- end }}

Give your analysis of the case from your perspective. Respond to the other
participants where you agree or disagree. End with two lines:
Stance: strongly_oppose | oppose | neutral | support | strongly_support
Confidence: high | medium | low`

// PromptData is the data available to prompt templates.
type PromptData struct {
	Case         string
	Role         core.Role
	Round        int
	MaxRounds    int
	Participants []string
	History      []memory.Entry
}

// systemPrompt renders the role persona. Personas may reference PromptData
// fields.
func systemPrompt(role core.Role, data PromptData) (string, error) {
	if strings.TrimSpace(role.Persona) == "" {
		return "You are " + role.Name + ".", nil
	}

	return util.RenderTemplate(role.Persona, data)
}
