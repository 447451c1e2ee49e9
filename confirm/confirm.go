// Package confirm implements the required-confirmation gate that runs before
// the first responder call of a session.
package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/consultmesh/core"
)

// AutoApprove accepts every plan.
type AutoApprove struct{}

// Confirm implements core.Confirmer.
func (AutoApprove) Confirm(context.Context, core.Plan) (bool, error) { return true, nil }

// Deny rejects every plan.
type Deny struct{}

// Confirm implements core.Confirmer.
func (Deny) Confirm(context.Context, core.Plan) (bool, error) { return false, nil }

// Prompt asks a human on In/Out. Anything but y or yes declines; EOF declines.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

// NewPrompt creates an interactive confirmer.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{In: in, Out: out}
}

// Confirm implements core.Confirmer.
func (p *Prompt) Confirm(ctx context.Context, plan core.Plan) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := io.WriteString(p.Out, Describe(plan)+"Proceed? [y/N]: "); err != nil {
		return false, fmt.Errorf("write confirmation prompt: %w", err)
	}

	answer := make(chan string, 1)
	readErr := make(chan error, 1)

	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			readErr <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-readErr:
		if err == io.EOF {
			return false, nil
		}

		return false, fmt.Errorf("read confirmation: %w", err)
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// Describe renders the plan summary shown to the user.
func Describe(plan core.Plan) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Session %s\n", plan.SessionID)
	fmt.Fprintf(&sb, "  roles:            %s\n", strings.Join(plan.Roles, ", "))
	fmt.Fprintf(&sb, "  max rounds:       %d\n", plan.MaxRounds)
	fmt.Fprintf(&sb, "  model:            %s\n", plan.Model)
	fmt.Fprintf(&sb, "  estimated tokens: %d\n", plan.EstimatedTokens)
	fmt.Fprintf(&sb, "  estimated cost:   $%.4f\n", plan.EstimatedCost)

	if plan.Budget != nil {
		fmt.Fprintf(&sb, "  budget:           $%.4f\n", *plan.Budget)
	}

	return sb.String()
}
