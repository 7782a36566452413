package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResultBuckets(t *testing.T) {
	r := NewResult("shop", "run-1")

	require.NoError(t, r.Add(&Record{Ordinal: 1, Key: "link:/", Outcome: OutcomePass, Status: 200}))
	require.NoError(t, r.Add(&Record{Ordinal: 2, Key: "link:/a", Outcome: OutcomeMismatch, Status: 200, Reasons: []string{"dom-hash: differs"}}))
	require.NoError(t, r.Add(&Record{Ordinal: 3, Key: "link:/b", Outcome: OutcomeShared, Status: 503}))
	require.NoError(t, r.Add(&Record{Ordinal: 4, Key: "link:/c", Outcome: OutcomeCancelled, Reasons: []string{"no_capture"}}))
	require.NoError(t, r.Add(&Record{Ordinal: 5, Key: "link:/d", Outcome: OutcomeUnexpected, Reasons: []string{"boom"}}))

	require.Equal(t, 5, r.Visited)
	require.Equal(t, []int{1, 2}, r.ByStatus[200])
	require.Equal(t, []int{3}, r.ByStatus[503])
	require.Equal(t, []int{2}, r.Mismatches)
	require.Equal(t, []int{4}, r.Cancelled["no_capture"])
	require.Equal(t, []int{5}, r.Unexpected["boom"])
	require.False(t, r.Clean())
}

func TestResultRejectsDuplicateKey(t *testing.T) {
	r := NewResult("shop", "run-1")
	require.NoError(t, r.Add(&Record{Ordinal: 1, Key: "link:/", Outcome: OutcomePass}))
	require.Error(t, r.Add(&Record{Ordinal: 2, Key: "link:/", Outcome: OutcomePass}))
	require.Equal(t, 1, r.Visited)
}

func TestResultCleanAndSummary(t *testing.T) {
	r := NewResult("shop", "run-1")
	r.Started = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r.Finished = r.Started.Add(90 * time.Second)
	require.NoError(t, r.Add(&Record{Ordinal: 1, Key: "link:/", Outcome: OutcomePass, Status: 200}))
	require.NoError(t, r.Add(&Record{Ordinal: 2, Key: "link:/x", Outcome: OutcomeCancelled, Reasons: []string{"network_busy"}}))

	require.True(t, r.Clean(), "cancellations alone keep a run clean")

	out := r.Summary()
	require.Contains(t, out, "2 visited")
	require.Contains(t, out, "status 200: 1")
	require.Contains(t, out, "cancelled network_busy: 1")
	require.NotContains(t, out, "mismatches")
}
