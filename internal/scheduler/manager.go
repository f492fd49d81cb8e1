package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sendwave/campaign-engine/internal/failover"
	"github.com/sendwave/campaign-engine/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultSweepInterval = 30 * time.Second

// Manager owns the set of running campaign loops. It launches one goroutine
// per started campaign, cancels it on pause, and periodically sweeps the
// sender pool so cooldowns expire and reheated senders thaw.
type Manager struct {
	registry   *registry.SenderRegistry
	controller *failover.Controller
	logger     *zap.Logger
	gauge      RunningGauge

	sweepInterval time.Duration

	mu      sync.Mutex
	running map[string]*runningCampaign

	// group collects every campaign loop goroutine so shutdown can drain
	// them. Created at construction: a loop launched before Start must still
	// be covered by the drain.
	group *errgroup.Group
}

// RunningGauge tracks the number of live campaign loops.
type RunningGauge interface {
	IncCampaignsRunning()
	DecCampaignsRunning()
}

type runningCampaign struct {
	sched  *CampaignScheduler
	cancel context.CancelFunc
}

func NewManager(reg *registry.SenderRegistry, controller *failover.Controller, logger *zap.Logger, gauge RunningGauge, sweepInterval time.Duration) (*Manager, error) {
	if reg == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if controller == nil {
		return nil, fmt.Errorf("failover controller is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	return &Manager{
		registry:      reg,
		controller:    controller,
		logger:        logger,
		gauge:         gauge,
		sweepInterval: sweepInterval,
		running:       make(map[string]*runningCampaign),
		group:         new(errgroup.Group),
	}, nil
}

// Start runs the sweep loop until the context is canceled, then waits for
// every campaign loop to drain its in-flight send.
func (m *Manager) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	m.logger.Info("campaign manager started", zap.Duration("sweepInterval", m.sweepInterval))

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return m.group.Wait()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Launch registers a campaign loop and runs it in the background. Returns
// ErrConflict-like duplication as a plain error: a campaign runs at most once.
func (m *Manager) Launch(sched *CampaignScheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler is required")
	}

	m.mu.Lock()
	if _, exists := m.running[sched.CampaignID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("campaign %s is already running", sched.CampaignID())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.running[sched.CampaignID()] = &runningCampaign{sched: sched, cancel: cancel}
	m.mu.Unlock()

	if m.gauge != nil {
		m.gauge.IncCampaignsRunning()
	}

	run := func() error {
		defer m.remove(sched.CampaignID())
		if err := sched.Run(runCtx); err != nil {
			m.logger.Warn("campaign loop stopped",
				zap.String("campaignId", sched.CampaignID()),
				zap.Error(err),
			)
		}
		return nil
	}

	m.group.Go(run)
	return nil
}

// Pause cancels a campaign's loop. The in-flight send, if any, completes;
// no further send is admitted. Reports whether the campaign was running.
func (m *Manager) Pause(campaignID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.running[campaignID]
	if !ok {
		return false
	}
	rc.cancel()
	delete(m.running, campaignID)
	if m.gauge != nil {
		m.gauge.DecCampaignsRunning()
	}
	return true
}

// IsRunning reports whether a campaign loop is live.
func (m *Manager) IsRunning(campaignID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[campaignID]
	return ok
}

// Scheduler returns the live loop for a campaign, for ETA recomputation.
func (m *Manager) Scheduler(campaignID string) (*CampaignScheduler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.running[campaignID]
	if !ok {
		return nil, false
	}
	return rc.sched, true
}

func (m *Manager) remove(campaignID string) {
	m.mu.Lock()
	_, present := m.running[campaignID]
	delete(m.running, campaignID)
	m.mu.Unlock()

	if present && m.gauge != nil {
		m.gauge.DecCampaignsRunning()
	}
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rc := range m.running {
		rc.cancel()
		delete(m.running, id)
		if m.gauge != nil {
			m.gauge.DecCampaignsRunning()
		}
	}
}

// sweep advances time-based sender transitions and thaws any sender that
// reheated back to ACTIVE so future handoffs may pick it again.
func (m *Manager) sweep(ctx context.Context) {
	changed, err := m.registry.Sweep(ctx)
	if err != nil {
		m.logger.Error("sender pool sweep failed", zap.Error(err))
		return
	}

	for _, sender := range changed {
		m.logger.Info("sender state changed on sweep",
			zap.String("senderId", sender.ID),
			zap.String("state", sender.State.String()),
		)
		if sender.State.Eligible() {
			m.controller.Thaw(sender.ID)
		}
	}
}
