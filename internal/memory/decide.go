package memory

import (
	"regexp"
	"strings"

	"github.com/dotcommander/lerim/internal/models"
)

// UpdateThreshold is the token-overlap score at or above which a candidate is
// treated as an update of an existing memory rather than a new one.
const UpdateThreshold = 0.72

// Decision labels for one candidate against the existing tree.
const (
	DecideAdd    = "add"
	DecideUpdate = "update"
	DecideNoOp   = "no_op"
)

// Candidate is one primitive proposed by the extraction pipeline, before the
// add/update/no_op decision.
type Candidate struct {
	Primitive  models.Primitive `json:"primitive"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	Kind       string           `json:"kind,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokens lowercases s and returns its letter/digit runs as a set.
func Tokens(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		out[t] = struct{}{}
	}
	return out
}

// OverlapScore is |A∩B| / min(|A|,|B|) over the word tokens of the two
// strings. 0 when either side is empty.
func OverlapScore(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	small, large := ta, tb
	if len(tb) < len(ta) {
		small, large = tb, ta
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// Decide applies the deterministic decision policy for one candidate against
// the existing entries of the same primitive:
//
//	no_op  — an existing memory has identical primitive, title, and body
//	update — primitives match and token overlap (title+body) >= 0.72
//	add    — otherwise
//
// The matched entry is returned for update and no_op.
func Decide(existing []Entry, c Candidate) (decision string, matched *Entry) {
	var best *Entry
	bestScore := 0.0
	candText := c.Title + "\n" + c.Body
	for i := range existing {
		e := &existing[i]
		if e.Primitive != c.Primitive || e.Archived {
			continue
		}
		if e.Title == c.Title && strings.TrimSpace(e.Body) == strings.TrimSpace(c.Body) {
			return DecideNoOp, e
		}
		score := OverlapScore(e.Title+"\n"+e.Body, candText)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	if best != nil && bestScore >= UpdateThreshold {
		return DecideUpdate, best
	}
	return DecideAdd, nil
}
