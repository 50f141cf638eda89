package workers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nsmarket/sponsorhub/internal/pkg/metrics/counter"
	"github.com/nsmarket/sponsorhub/internal/pkg/sponsorship"
)

const (
	counterFlushInterval = 5 * time.Second
	expirySweepInterval  = 15 * time.Minute
)

// Manager runs the background tasks of the sponsor service: flushing pending
// impression/click counters from Redis to the database and expiring slots
// whose paid-through date has passed without a renewal.
type Manager struct {
	svc                *sponsorship.Service
	counterFlushTicker *time.Ticker
	expirySweepTicker  *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

// NewManager creates a worker manager for the given sponsorship service.
func NewManager(svc *sponsorship.Service) *Manager {
	return &Manager{
		svc:    svc,
		stopCh: make(chan struct{}),
	}
}

// Start starts the background tasks.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Workers] Starting background tasks")

	m.counterFlushTicker = time.NewTicker(counterFlushInterval)
	m.wg.Add(1)
	go m.counterFlushWorker()

	m.expirySweepTicker = time.NewTicker(expirySweepInterval)
	m.wg.Add(1)
	go m.expirySweepWorker()

	log.Info("[Workers] Started successfully")
}

// Stop stops the background tasks and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Workers] Stopping background tasks...")

	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}
	if m.expirySweepTicker != nil {
		m.expirySweepTicker.Stop()
	}

	close(m.stopCh)
	m.wg.Wait()
	m.running = false

	log.Info("[Workers] Stopped")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// counterFlushWorker periodically flushes pending counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Workers] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[Workers] Counter flush error: %v", err)
			}
		}
	}
}

// expirySweepWorker periodically marks lapsed active slots as expired
func (m *Manager) expirySweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Workers] Expiry sweep worker stopping")
			return
		case <-m.expirySweepTicker.C:
			expired, err := m.svc.ExpireLapsedSlots(context.Background())
			if err != nil {
				log.Errorf("[Workers] Expiry sweep error: %v", err)
			} else if expired > 0 {
				log.Infof("[Workers] Expired %d lapsed sponsor slot(s)", expired)
			}
		}
	}
}
