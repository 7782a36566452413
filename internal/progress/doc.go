// Package progress defines the event stream emitted while a comparison run
// walks the two deployments, plus the Hub that fans events out to sinks.
package progress
