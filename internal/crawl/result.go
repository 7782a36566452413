package crawl

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Outcome classifies how a visit concluded.
type Outcome string

// Supported visit outcomes.
const (
	// OutcomePass means both deployments answered and no divergence was found.
	OutcomePass Outcome = "pass"
	// OutcomeMismatch means at least one comparison check reported a divergence.
	OutcomeMismatch Outcome = "mismatch"
	// OutcomeShared means both deployments failed identically (same >= 400
	// status); the visit is recorded but not treated as a divergence.
	OutcomeShared Outcome = "shared_failure"
	// OutcomeCancelled means the visit could not produce a comparable pair
	// for a recognized transient reason.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeUnexpected means the visit aborted for a reason the engine does
	// not recognize; these always warrant investigation.
	OutcomeUnexpected Outcome = "unexpected"
)

// Record is the durable trace of one visit.
type Record struct {
	Ordinal int      `json:"ordinal"`
	Key     string   `json:"key"`
	Kind    Kind     `json:"kind"`
	Label   string   `json:"label"`
	Status  int      `json:"status,omitempty"`
	Outcome Outcome  `json:"outcome"`
	Reasons []string `json:"reasons,omitempty"`

	// Dest is the stripped destination-signature key of the place the visit
	// landed on, empty when resolution failed before a signature was taken.
	Dest string `json:"dest,omitempty"`
}

// Result aggregates everything a run produced. Seen is authoritative: every
// visited place appears exactly once, keyed by its dedupe key.
type Result struct {
	Role  string `json:"role"`
	RunID string `json:"run_id"`

	Seen map[string]*Record `json:"seen"`

	// ByStatus groups visit ordinals by the reference deployment's HTTP
	// status.
	ByStatus map[int][]int `json:"by_status"`

	// Mismatches lists the ordinals where a divergence was detected.
	Mismatches []int `json:"mismatches,omitempty"`

	// Cancelled groups cancelled-visit ordinals by reason.
	Cancelled map[string][]int `json:"cancelled,omitempty"`

	// Unexpected groups aborted-visit ordinals by the error text.
	Unexpected map[string][]int `json:"unexpected,omitempty"`

	Visited  int       `json:"visited"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// NewResult initializes an empty Result for the given role and run.
func NewResult(role, runID string) *Result {
	return &Result{
		Role:       role,
		RunID:      runID,
		Seen:       make(map[string]*Record),
		ByStatus:   make(map[int][]int),
		Cancelled:  make(map[string][]int),
		Unexpected: make(map[string][]int),
	}
}

// Add files a completed visit record into every relevant bucket.
func (r *Result) Add(rec *Record) error {
	if _, dup := r.Seen[rec.Key]; dup {
		return fmt.Errorf("duplicate record for key %q", rec.Key)
	}
	r.Seen[rec.Key] = rec
	r.Visited++

	switch rec.Outcome {
	case OutcomePass, OutcomeMismatch, OutcomeShared:
		r.ByStatus[rec.Status] = append(r.ByStatus[rec.Status], rec.Ordinal)
		if rec.Outcome == OutcomeMismatch {
			r.Mismatches = append(r.Mismatches, rec.Ordinal)
		}
	case OutcomeCancelled:
		reason := firstReason(rec)
		r.Cancelled[reason] = append(r.Cancelled[reason], rec.Ordinal)
	case OutcomeUnexpected:
		reason := firstReason(rec)
		r.Unexpected[reason] = append(r.Unexpected[reason], rec.Ordinal)
	default:
		return fmt.Errorf("record %d: unknown outcome %q", rec.Ordinal, rec.Outcome)
	}
	return nil
}

func firstReason(rec *Record) string {
	if len(rec.Reasons) == 0 {
		return "unknown"
	}
	return rec.Reasons[0]
}

// Clean reports whether the run finished without mismatches or unexpected
// aborts.
func (r *Result) Clean() bool {
	if len(r.Mismatches) > 0 {
		return false
	}
	for _, ords := range r.Unexpected {
		if len(ords) > 0 {
			return false
		}
	}
	return true
}

// Summary renders a human-readable digest of the run.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "role %s run %s: %d visited in %s\n",
		r.Role, r.RunID, r.Visited, r.Finished.Sub(r.Started).Round(time.Millisecond))

	statuses := make([]int, 0, len(r.ByStatus))
	for status := range r.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Ints(statuses)
	for _, status := range statuses {
		fmt.Fprintf(&b, "  status %d: %d\n", status, len(r.ByStatus[status]))
	}

	if len(r.Mismatches) > 0 {
		fmt.Fprintf(&b, "  mismatches: %d at %v\n", len(r.Mismatches), r.Mismatches)
	}
	for _, reason := range sortedKeys(r.Cancelled) {
		fmt.Fprintf(&b, "  cancelled %s: %d\n", reason, len(r.Cancelled[reason]))
	}
	for _, reason := range sortedKeys(r.Unexpected) {
		fmt.Fprintf(&b, "  unexpected %s: %d at %v\n", reason, len(r.Unexpected[reason]), r.Unexpected[reason])
	}
	return b.String()
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
