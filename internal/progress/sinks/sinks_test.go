package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/progress"
)

func evt(stage progress.Stage, mutate func(*progress.Event)) progress.Event {
	e := progress.Event{
		RunID: progress.UUIDToBytes(uuid.New()),
		TS:    time.Now().UTC(),
		Stage: stage,
		Role:  "shop",
	}
	if mutate != nil {
		mutate(&e)
	}
	return e
}

func TestPrometheusSinkCountsVisits(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	run := evt(progress.StageRunStart, nil)
	batch := []progress.Event{
		run,
		evt(progress.StageVisitDone, func(e *progress.Event) {
			e.RunID = run.RunID
			e.Ordinal = 1
			e.Status = 200
		}),
		evt(progress.StageVisitCancelled, func(e *progress.Event) {
			e.RunID = run.RunID
			e.Reason = "no_capture"
		}),
		evt(progress.StageMismatch, func(e *progress.Event) {
			e.RunID = run.RunID
			e.Reason = "dom_hash"
		}),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.visits.WithLabelValues("shop", "2xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.cancellations.WithLabelValues("shop", "no_capture")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.mismatches.WithLabelValues("shop", "dom_hash")))

	done := evt(progress.StageRunDone, func(e *progress.Event) {
		e.RunID = run.RunID
		e.Dur = 3 * time.Second
	})
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{done}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
}

func TestMemorySinkRingOverwrite(t *testing.T) {
	sink := NewMemorySink(3)
	var batch []progress.Event
	for i := 1; i <= 5; i++ {
		batch = append(batch, evt(progress.StageVisitDone, func(e *progress.Event) {
			e.Ordinal = i
		}))
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	recent := sink.Recent()
	require.Len(t, recent, 3)
	require.Equal(t, 3, recent[0].Ordinal)
	require.Equal(t, 5, recent[2].Ordinal)
}

func TestLogSinkHandlesBatch(t *testing.T) {
	sink := NewLogSink(zap.NewNop())
	batch := []progress.Event{evt(progress.StageRunStart, nil)}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))
}
