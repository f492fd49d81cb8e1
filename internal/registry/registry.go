// Package registry holds the live sender pool: who may send right now, at
// what rate, and with what health state. Reads are concurrent; health
// mutations are serialized per sender so campaigns never contend on a global
// lock.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/failover"
	"github.com/sendwave/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

type SenderRegistry struct {
	repo   repository.SenderRepository
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	cfg     domain.PoolConfig
	rules   []failover.Rule
	entries map[string]*senderEntry
}

// senderEntry pairs a sender with its sliding window; entry.mu serializes
// health updates for that sender only.
type senderEntry struct {
	mu     sync.Mutex
	sender domain.Sender
	window *window
}

func NewSenderRegistry(repo repository.SenderRepository, cfg domain.PoolConfig, logger *zap.Logger) (*SenderRegistry, error) {
	if repo == nil {
		return nil, fmt.Errorf("sender repository is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SenderRegistry{
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		cfg:     cfg,
		rules:   failover.DefaultRules(cfg),
		entries: make(map[string]*senderEntry),
	}, nil
}

// Load hydrates the registry from storage. Called once at startup.
func (r *SenderRegistry) Load(ctx context.Context) error {
	senders, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load senders: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range senders {
		r.entries[senders[i].ID] = &senderEntry{
			sender: senders[i],
			window: newWindow(r.cfg.FailureWindowDuration),
		}
	}
	return nil
}

// Register adds an operator-provided sender number to the pool.
func (r *SenderRegistry) Register(ctx context.Context, sender *domain.Sender) error {
	if sender == nil {
		return fmt.Errorf("%w: sender is required", domain.ErrValidation)
	}
	if strings.TrimSpace(sender.ID) == "" {
		sender.ID = uuid.NewString()
	}
	if sender.State == "" {
		sender.State = domain.SenderActive
	}
	if sender.QualityTier == "" {
		sender.QualityTier = domain.QualityHigh
	}
	if sender.EffectiveCapacity <= 0 || sender.EffectiveCapacity > sender.Capacity {
		sender.EffectiveCapacity = sender.Capacity
	}
	if err := sender.Validate(); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, sender); err != nil {
		return err
	}

	r.mu.Lock()
	r.entries[sender.ID] = &senderEntry{
		sender: *sender,
		window: newWindow(r.cfg.FailureWindowDuration),
	}
	r.mu.Unlock()

	r.logger.Info("sender registered",
		zap.String("senderId", sender.ID),
		zap.String("phone", sender.PhoneNumber),
		zap.Int("capacity", sender.Capacity),
	)
	return nil
}

// EligibleSenders returns a snapshot of senders that may take new work,
// ordered by pool position with DEGRADED senders deprioritized behind ACTIVE
// ones. The ordering is deterministic for identical pool state.
func (r *SenderRegistry) EligibleSenders(_ context.Context) ([]domain.Sender, error) {
	r.mu.RLock()
	senders := make([]domain.Sender, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		s := e.sender
		e.mu.Unlock()
		if s.State.Eligible() {
			senders = append(senders, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(senders, func(i, j int) bool {
		di, dj := senders[i].State == domain.SenderDegraded, senders[j].State == domain.SenderDegraded
		if di != dj {
			return !di
		}
		if senders[i].Position != senders[j].Position {
			return senders[i].Position < senders[j].Position
		}
		return senders[i].ID < senders[j].ID
	})

	return senders, nil
}

// Senders returns a snapshot of the whole pool regardless of state.
func (r *SenderRegistry) Senders() []domain.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	senders := make([]domain.Sender, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		senders = append(senders, e.sender)
		e.mu.Unlock()
	}
	sort.Slice(senders, func(i, j int) bool {
		if senders[i].Position != senders[j].Position {
			return senders[i].Position < senders[j].Position
		}
		return senders[i].ID < senders[j].ID
	})
	return senders
}

// StateOf reports a sender's current operational state.
func (r *SenderRegistry) StateOf(senderID string) (domain.SenderState, bool) {
	e := r.entry(senderID)
	if e == nil {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sender.State, true
}

// CapacityOf returns a sender's effective messages/second budget.
func (r *SenderRegistry) CapacityOf(senderID string) int {
	e := r.entry(senderID)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sender.EffectiveCapacity
}

// PhoneOf returns a sender's registered phone number, empty if unknown.
func (r *SenderRegistry) PhoneOf(senderID string) string {
	e := r.entry(senderID)
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sender.PhoneNumber
}

// RecordDispatch counts one outbound message against the sender's quality
// tier budget. Called by the dispatch loop on every admitted send.
func (r *SenderRegistry) RecordDispatch(senderID string) {
	e := r.entry(senderID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.sender.TierUsed++
	e.mu.Unlock()
}

// RecordHealthSignal folds one delivery, failure, or quality event into the
// sender's window and runs the rule chain. Returns the sender's state after
// evaluation. Unknown senders yield ErrStaleSignal.
func (r *SenderRegistry) RecordHealthSignal(ctx context.Context, sig domain.HealthSignal) (domain.SenderState, error) {
	if err := sig.Validate(); err != nil {
		return "", err
	}

	e := r.entry(sig.SenderID)
	if e == nil {
		return "", fmt.Errorf("%w: unknown sender %s", domain.ErrStaleSignal, sig.SenderID)
	}

	now := r.now().UTC()
	at := sig.OccurredAt
	if at.IsZero() {
		at = now
	}

	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	e.mu.Lock()
	switch sig.Kind {
	case domain.SignalDelivered:
		e.window.add(at, false)
	case domain.SignalFailed:
		e.window.add(at, true)
	case domain.SignalQuality:
		e.sender.QualityTier = sig.Quality
	}

	stats := e.window.stats(now)
	changed := failover.Evaluate(rules, &e.sender, stats, now)
	sender := e.sender
	e.mu.Unlock()

	if changed {
		r.logger.Info("sender health transition",
			zap.String("senderId", sender.ID),
			zap.String("state", sender.State.String()),
			zap.String("quality", sender.QualityTier.String()),
			zap.Int("effectiveCapacity", sender.EffectiveCapacity),
			zap.Float64("failureRate", stats.FailureRate()),
		)
		if err := r.repo.Update(ctx, &sender); err != nil {
			r.logger.Warn("failed to persist sender state", zap.String("senderId", sender.ID), zap.Error(err))
		}
	}

	return sender.State, nil
}

// Sweep runs the time-based rules (cooldown expiry, reheat) over the whole
// pool and returns the senders whose state changed. Driven by a ticker.
func (r *SenderRegistry) Sweep(ctx context.Context) ([]domain.Sender, error) {
	now := r.now().UTC()

	r.mu.RLock()
	rules := r.rules
	entries := make([]*senderEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var changedSenders []domain.Sender
	for _, e := range entries {
		e.mu.Lock()
		stats := e.window.stats(now)
		changed := failover.Evaluate(rules, &e.sender, stats, now)
		sender := e.sender
		e.mu.Unlock()

		if !changed {
			continue
		}
		changedSenders = append(changedSenders, sender)
		if err := r.repo.Update(ctx, &sender); err != nil {
			r.logger.Warn("failed to persist sender state", zap.String("senderId", sender.ID), zap.Error(err))
		}
	}

	return changedSenders, nil
}

// ApplyConfig swaps in a new pool configuration and rebuilds the rule chain.
func (r *SenderRegistry) ApplyConfig(cfg domain.PoolConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.cfg = cfg
	r.rules = failover.DefaultRules(cfg)
	r.mu.Unlock()

	r.logger.Info("pool configuration applied",
		zap.String("rotation", cfg.Rotation.String()),
		zap.Int("globalRateCap", cfg.GlobalRateCap),
	)
	return nil
}

// Config returns the current pool configuration.
func (r *SenderRegistry) Config() domain.PoolConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *SenderRegistry) entry(senderID string) *senderEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[senderID]
}
