// Package store persists run and visit records for later audits. The crawl
// engine works purely in memory; writing to a database is optional and
// happens at the end of a run.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunRecord summarizes one finished comparison run.
type RunRecord struct {
	RunID      uuid.UUID
	Role       string
	Started    time.Time
	Finished   time.Time
	Visited    int
	Mismatches int
	Clean      bool
}

// VisitRecord is the durable form of one visit outcome.
type VisitRecord struct {
	RunID     uuid.UUID
	Role      string
	Ordinal   int
	Key       string
	Kind      string
	Label     string
	Status    int
	Outcome   string
	Reasons   []string
	Dest      string
	VisitedAt time.Time
}

// VisitRepository persists run summaries and visit records.
type VisitRepository interface {
	StoreRun(ctx context.Context, rec RunRecord) error
	StoreVisit(ctx context.Context, rec VisitRecord) error
	Close()
}

// NoOp discards every record. Used when no database is configured.
type NoOp struct{}

// StoreRun implements VisitRepository.
func (NoOp) StoreRun(context.Context, RunRecord) error { return nil }

// StoreVisit implements VisitRepository.
func (NoOp) StoreVisit(context.Context, VisitRecord) error { return nil }

// Close implements VisitRepository.
func (NoOp) Close() {}
