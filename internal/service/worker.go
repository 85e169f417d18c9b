package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgkeeper/internal/store"
)

// samplePeriod is how often the worker reads the kernel counters.
const samplePeriod = 60 * time.Second

// StatsSink receives one cycle's worth of deltas in a single transaction.
type StatsSink interface {
	UpdatePeerStats(ctx context.Context, deltas []store.StatsDelta) error
}

// StatsWorker samples per-peer byte counters and accumulates them durably.
// It holds its own device handle and never contends on the service lock;
// only the store is shared.
//
// Kernel counters reset when a peer is re-added or the interface bounces.
// The worker keeps the last seen pair per key: a sample lower than the
// previous one adopts the new baseline and emits nothing for that cycle,
// so persisted totals never decrease. Bytes moved inside the lost window
// are not reconstructed.
type StatsWorker struct {
	WG    WG
	Sink  StatsSink
	// Period overrides the 60 s default; tests shorten it.
	Period time.Duration

	prev map[wgtypes.Key]counters
}

type counters struct {
	tx, rx uint64
}

// Run samples in a loop until ctx is cancelled.
func (w *StatsWorker) Run(ctx context.Context) error {
	period := w.Period
	if period <= 0 {
		period = samplePeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := w.sample(ctx); err != nil {
			slog.Warn("stats sampling cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sample runs one cycle: read the device, diff against the previous
// observation, push the non-negative deltas.
func (w *StatsWorker) sample(ctx context.Context) error {
	dev, err := w.WG.Device(ctx)
	if err != nil {
		return fmt.Errorf("read device: %w", err)
	}
	if w.prev == nil {
		w.prev = make(map[wgtypes.Key]counters, len(dev.Peers))
	}

	deltas := make([]store.StatsDelta, 0, len(dev.Peers))
	for _, p := range dev.Peers {
		cur := counters{tx: uint64(p.TransmitBytes), rx: uint64(p.ReceiveBytes)}
		old, seen := w.prev[p.PublicKey]
		w.prev[p.PublicKey] = cur
		if !seen {
			old = counters{}
		}
		if old.tx > cur.tx || old.rx > cur.rx {
			slog.Warn("peer counters went backwards, skipping cycle for peer",
				"peer", p.PublicKey, "prev_tx", old.tx, "tx", cur.tx, "prev_rx", old.rx, "rx", cur.rx)
			continue
		}
		deltas = append(deltas, store.StatsDelta{
			PublicKey: p.PublicKey,
			TX:        cur.tx - old.tx,
			RX:        cur.rx - old.rx,
		})
	}

	if err := w.Sink.UpdatePeerStats(ctx, deltas); err != nil {
		return fmt.Errorf("persist deltas: %w", err)
	}
	return nil
}
