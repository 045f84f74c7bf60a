// Package modempool implements the SMS modem selection, accounting, and
// health-probing behavior from spec §4.7 (C2). Modem state lives in
// Postgres (per Design Note: "do not cache modem state across requests
// beyond a short TTL"); this package adds the in-memory pieces Postgres
// cannot express — a per-modem concurrency bound and a background
// health probe — on top of it.
package modempool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// Pool selects a modem for a send, accounts for it afterward, and runs
// the background health probe.
type Pool interface {
	Select(ctx context.Context, service, imei string) (*model.Modem, error)
	MarkSent(ctx context.Context, modemID int64) error
	Probe(ctx context.Context)
}

// ManagedPool implements Pool against repo.ModemRepository, with a
// buffered-channel semaphore per modem bounding in-flight sends to
// max_concurrent_sms (spec §5).
type ManagedPool struct {
	repo   repo.ModemRepository
	cfg    config.SMSModemPoolConfig
	logger zerolog.Logger

	mu    sync.Mutex
	sema  map[int64]chan struct{}
	fails map[int64]int
}

func NewManagedPool(r repo.ModemRepository, cfg *config.Config, logger *zerolog.Logger) *ManagedPool {
	return &ManagedPool{
		repo:   r,
		cfg:    cfg.SMSModemPool,
		logger: logger.With().Str("component", "modempool").Logger(),
		sema:   make(map[int64]chan struct{}),
		fails:  make(map[int64]int),
	}
}

// Select implements spec §4.7 steps 1-4: a dedicated modem for the
// alarm's imei if one exists, otherwise the highest-priority eligible
// modem with remaining quota and an available concurrency slot.
func (p *ManagedPool) Select(ctx context.Context, service, imei string) (*model.Modem, error) {
	if dedicated, err := p.repo.FindDedicated(ctx, imei); err != nil {
		return nil, fmt.Errorf("modempool: FindDedicated: %w", err)
	} else if dedicated != nil {
		if p.tryAcquire(dedicated) {
			return dedicated, nil
		}
	}

	candidates, err := p.repo.ListEligible(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("modempool: ListEligible: %w", err)
	}
	for i := range candidates {
		if p.tryAcquire(&candidates[i]) {
			return &candidates[i], nil
		}
	}
	return nil, fmt.Errorf("modempool: no eligible modem with an available slot for service %q", service)
}

// Release frees the concurrency slot a successful or failed Select
// acquired. Callers must call this once their send attempt completes.
func (p *ManagedPool) Release(modemID int64) {
	p.mu.Lock()
	sema := p.sema[modemID]
	p.mu.Unlock()
	if sema == nil {
		return
	}
	select {
	case <-sema:
	default:
	}
}

func (p *ManagedPool) tryAcquire(m *model.Modem) bool {
	sema := p.semaphoreFor(m)
	select {
	case sema <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *ManagedPool) semaphoreFor(m *model.Modem) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	sema, ok := p.sema[m.ID]
	if !ok {
		size := m.MaxConcurrentSMS
		if size <= 0 {
			size = 1
		}
		sema = make(chan struct{}, size)
		p.sema[m.ID] = sema
	}
	return sema
}

// MarkSent atomically increments the modem's usage counters per spec
// §4.7 ("atomically increment sms_sent_count and insert a daily-usage
// row").
func (p *ManagedPool) MarkSent(ctx context.Context, modemID int64) error {
	return p.repo.IncrementSentCount(ctx, modemID, time.Now().UTC())
}

// Probe runs the background health-check loop until ctx is cancelled.
// Grounded on bakode-goatsms's modem reconnect monitor: a ticker plus
// jpillora/backoff on repeated failures, adapted from serial-modem
// reconnect to periodic HTTP-reachability polling of each modem's host.
func (p *ManagedPool) Probe(ctx context.Context) {
	interval := p.cfg.ProbeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *ManagedPool) probeOnce(ctx context.Context) {
	// Unfiltered List, not ListEligible: ListEligible excludes anything
	// already unhealthy, which would make an unhealthy modem permanently
	// unprobable and unable to recover (spec §4.7 "one success → healthy
	// again").
	modems, err := p.repo.List(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("modempool: probe: failed to list modems")
		return
	}

	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true}
	unhealthyAfter := p.cfg.UnhealthyAfterFails
	if unhealthyAfter <= 0 {
		unhealthyAfter = 3
	}

	for _, m := range modems {
		reachable := p.checkReachable(ctx, m)
		p.mu.Lock()
		if reachable {
			p.fails[m.ID] = 0
		} else {
			p.fails[m.ID]++
		}
		fails := p.fails[m.ID]
		p.mu.Unlock()

		status := model.HealthHealthy
		if fails >= unhealthyAfter {
			status = model.HealthUnhealthy
			time.Sleep(b.Duration()) // stagger retries against a flapping modem host
		}
		if err := p.repo.SetHealth(ctx, m.ID, status, time.Now().UTC()); err != nil {
			p.logger.Warn().Err(err).Int64("modem_id", m.ID).Msg("modempool: probe: failed to record health")
		}
	}
}

func (p *ManagedPool) checkReachable(ctx context.Context, m model.Modem) bool {
	timeout := p.cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return probeHTTP(pctx, m.Host) == nil
}
