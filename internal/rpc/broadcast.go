package rpc

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Broadcast issues the same command to every daemon concurrently. Each call
// runs to completion regardless of the siblings: one worker failing never
// cancels the others mid-call. The returned error joins every per-daemon
// failure, each annotated with its daemon's address.
func Broadcast(ctx context.Context, clients []*Client, command string, payload any) error {
	var g errgroup.Group
	errs := make([]error, len(clients))
	for i, client := range clients {
		g.Go(func() error {
			if err := client.Call(ctx, command, payload, nil); err != nil {
				errs[i] = fmt.Errorf("daemon %s: %w", client.cfg.Addr, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// PingAll verifies every daemon answers before a run starts. Like Broadcast,
// every daemon is probed even when another already failed, so the error names
// each unreachable one.
func PingAll(ctx context.Context, clients ...*Client) error {
	var g errgroup.Group
	errs := make([]error, len(clients))
	for i, client := range clients {
		g.Go(func() error {
			if err := client.Ping(ctx); err != nil {
				errs[i] = fmt.Errorf("daemon %s: %w", client.cfg.Addr, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
