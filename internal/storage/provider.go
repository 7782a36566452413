// Package storage defines the blob store behind artifact persistence. The
// abstraction keeps the crawl engine independent of where HTML and screenshot
// artifacts land: the local filesystem for interactive runs, Google Cloud
// Storage for CI fleets, memory for tests.
package storage

import "context"

// Provider saves one artifact under an object path.
type Provider interface {
	Save(ctx context.Context, objectPath string, contentType string, data []byte) error
}

// NoOp discards every artifact; useful for dry runs where only the
// end-of-run summary matters.
type NoOp struct{}

// Save does nothing.
func (NoOp) Save(context.Context, string, string, []byte) error { return nil }
