package daemon

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestShutdownIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()

	if err := ignoreCanceled(g.Wait()); err != nil {
		t.Fatalf("cancelled shutdown = %v, want nil", err)
	}
}

func TestComponentFailureSurfaces(t *testing.T) {
	boom := errors.New("listener gone")
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { return boom })

	if err := ignoreCanceled(g.Wait()); !errors.Is(err, boom) {
		t.Fatalf("component failure = %v, want %v", err, boom)
	}
}
