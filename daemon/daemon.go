// Package daemon wires the store, kernel handles, service and frontends
// together and supervises them for the lifetime of the process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"wgkeeper/config"
	"wgkeeper/internal/bot"
	"wgkeeper/internal/httpapi"
	"wgkeeper/internal/ippool"
	"wgkeeper/internal/kernel"
	"wgkeeper/internal/service"
	"wgkeeper/internal/store"
)

// Run brings the daemon up and blocks until ctx is cancelled or a
// component fails. Startup order matters: the store and kernel handles
// first, then reconciliation, and only then the frontends.
func Run(ctx context.Context, cfg *config.Config) error {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	st, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	wg, err := kernel.OpenWG(cfg.Interface)
	if err != nil {
		return err
	}
	defer wg.Close()

	dev, err := wg.Device(ctx)
	if err != nil {
		return err
	}

	index, err := kernel.InterfaceIndex(cfg.Interface)
	if err != nil {
		return err
	}

	clientRange, err := netip.ParsePrefix(cfg.Range)
	if err != nil {
		return fmt.Errorf("parse client range: %w", err)
	}
	pool, err := ippool.New(clientRange)
	if err != nil {
		return err
	}

	svc, err := service.New(service.Params{
		Store:     st,
		WG:        wg,
		Router:    kernel.NewRouter(index),
		Pool:      pool,
		DVPNTable: cfg.DVPNTable,
		Endpoint:  cfg.Endpoint,
		PublicKey: dev.PublicKey.String(),
		Secret:    []byte(cfg.Secret),
	})
	if err != nil {
		return err
	}

	if err := svc.Init(ctx); err != nil {
		return fmt.Errorf("reconcile kernel state: %w", err)
	}
	if cfg.AdminChatID != 0 {
		if err := svc.Bootstrap(ctx, cfg.AdminChatID); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	// The sampler reads counters outside the service lock, so it gets its
	// own control socket.
	statsWG, err := kernel.OpenWG(cfg.Interface)
	if err != nil {
		return err
	}
	defer statsWG.Close()

	g, ctx := errgroup.WithContext(ctx)

	worker := &service.StatsWorker{WG: statsWG, Sink: st}
	g.Go(func() error { return worker.Run(ctx) })

	api := httpapi.New(svc, cfg.ListenAddr)
	g.Go(func() error {
		slog.Info("http api listening", "addr", cfg.ListenAddr)
		return api.Run(ctx)
	})

	if cfg.TelegramToken != "" {
		tg, err := bot.New(cfg.TelegramToken, svc)
		if err != nil {
			return err
		}
		g.Go(func() error { return tg.Run(ctx) })
	}

	if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
		slog.Error("notify systemd failed", "err", err)
	}

	// On SIGTERM every member returns the context error; that is a clean
	// shutdown, not a failure.
	return ignoreCanceled(g.Wait())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
