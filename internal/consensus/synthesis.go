package consensus

import (
	"strings"

	"github.com/ShayCichocki/accord/pkg/models"
)

// contribution is one successful member's conclusion, kept in canonical
// roster order.
type contribution struct {
	worker     string
	output     string
	normalized string
}

// synthesize merges the successful outputs into one artifact. Identical or
// compatible conclusions merge silently; genuinely conflicting conclusions
// are recorded verbatim so the caller decides how to surface them, rather
// than a winner being picked in silence.
func synthesize(outcomes []models.AgentOutcome) (string, []models.Conflict) {
	var contribs []contribution
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		contribs = append(contribs, contribution{
			worker:     o.Worker.Name,
			output:     o.Output,
			normalized: normalize(o.Output),
		})
	}
	if len(contribs) == 0 {
		return "", nil
	}

	// The longest normalized conclusion is the merge base; anything it
	// subsumes is compatible. Ties break by canonical roster position.
	base := 0
	for i, c := range contribs {
		if len(c.normalized) > len(contribs[base].normalized) {
			base = i
		}
	}

	disagreeing := make(map[string]bool)
	for i, c := range contribs {
		if i == base {
			continue
		}
		if !compatible(contribs[base].normalized, c.normalized) {
			disagreeing[c.worker] = true
		}
	}
	if len(disagreeing) == 0 {
		return contribs[base].output, nil
	}

	// A real disagreement includes the base conclusion: list every party in
	// canonical order with its verbatim output.
	conflict := models.Conflict{}
	for i, c := range contribs {
		if i == base || disagreeing[c.worker] {
			conflict.Workers = append(conflict.Workers, c.worker)
			conflict.Outputs = append(conflict.Outputs, c.output)
		}
	}
	return contribs[base].output, []models.Conflict{conflict}
}

// compatible reports whether other's conclusion is subsumed by base.
func compatible(base, other string) bool {
	if other == "" {
		return true
	}
	return strings.Contains(base, other)
}

// normalize reduces an output to its comparable form: line endings unified,
// per-line trailing whitespace stripped, outer whitespace trimmed.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
