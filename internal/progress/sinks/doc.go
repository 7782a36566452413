// Package sinks bundles the progress.Sink implementations.
package sinks
