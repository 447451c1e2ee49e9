package memory

import (
	"github.com/hupe1980/consultmesh/core"
)

// Window returns the most recent size ok turns across rounds, oldest first.
// Turns are ordered by (round, position in the round) and the oldest entries
// are dropped first when the window is full. Failed and skipped turns carry
// no text and never occupy a slot. A size of 0 yields no history.
func Window(rounds []core.Round, size int) []core.Turn {
	if size <= 0 {
		return nil
	}

	var all []core.Turn
	for _, r := range rounds {
		for _, t := range r.Turns {
			if t.OK() {
				all = append(all, t)
			}
		}
	}

	if len(all) > size {
		all = all[len(all)-size:]
	}

	out := make([]core.Turn, len(all))
	for i, t := range all {
		out[i] = t.Clone()
	}

	return out
}

// Entry is a prompt-ready view of one remembered turn.
type Entry struct {
	RoleID string
	Name   string
	Round  int
	Text   string
	Stance string
}

// Entries converts a window into prompt entries, resolving display names via
// names (falling back to the role id) and truncating text to maxChars when
// maxChars > 0.
func Entries(turns []core.Turn, names map[string]string, maxChars int) []Entry {
	out := make([]Entry, 0, len(turns))
	for _, t := range turns {
		e := Entry{RoleID: t.RoleID, Name: t.RoleID, Round: t.Round, Text: truncate(t.Text, maxChars)}
		if n, ok := names[t.RoleID]; ok && n != "" {
			e.Name = n
		}
		if t.Stance != nil {
			e.Stance = t.Stance.Label.String()
		}
		out = append(out, e)
	}

	return out
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}

	return string(r[:max]) + "..."
}
