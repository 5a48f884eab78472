package system

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/escrow_service/internal/app/metrics"
	"github.com/R3E-Network/escrow_service/pkg/logger"
)

// Monitor samples host CPU and memory into the metrics gauges on a fixed
// interval.
type Monitor struct {
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewMonitor creates a host resource monitor. Interval defaults to 15s.
func NewMonitor(interval time.Duration, log *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("monitor")
	}
	return &Monitor{interval: interval, log: log}
}

func (m *Monitor) Name() string { return "host-monitor" }

// Start launches the sampling loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.loop(loopCtx)
	return nil
}

// Stop terminates the sampling loop and waits for it to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		m.log.WithError(err).Debug("cpu sample failed")
		return
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		m.log.WithError(err).Debug("memory sample failed")
		return
	}

	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	metrics.SetHostStats(cpuPercent, vm.Used)
}
