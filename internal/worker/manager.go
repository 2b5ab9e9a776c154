package worker

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/pkg/logger"
	"go.bug.st/serial"
)

// ManagerOptions configure a Manager. Dial and Ports default to the serial
// implementations.
type ManagerOptions struct {
	AT     config.ATConfig
	SMS    config.SMSConfig
	Serial config.SerialConfig
	Bus    *event.Bus
	Dial   func(config.ModemConfig) Dialer
	Ports  func() ([]string, error)
	// RestartDelay is how long Restart waits for the modem to come back.
	RestartDelay time.Duration
}

// Manager owns one worker per modem port.
type Manager struct {
	opts         ManagerOptions
	workers      map[string]*ModemWorker // port -> worker
	starting     map[string]bool
	failed       map[string]bool // discovered ports that did not answer
	activeICCIDs map[string]string // iccid -> portName
	mu           sync.RWMutex
	stop         chan struct{}
	stopOnce     sync.Once
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Dial == nil {
		opts.Dial = func(c config.ModemConfig) Dialer { return SerialDialer{Config: c} }
	}
	if opts.Ports == nil {
		opts.Ports = serial.GetPortsList
	}
	return &Manager{
		opts:         opts,
		workers:      make(map[string]*ModemWorker),
		starting:     make(map[string]bool),
		failed:       make(map[string]bool),
		activeICCIDs: make(map[string]string),
		stop:         make(chan struct{}),
	}
}

// Start brings up the configured modems and, when enabled, scans for new
// ports every scan interval.
func (m *Manager) Start(ctx context.Context, modems []config.ModemConfig) {
	for _, c := range modems {
		go func() {
			if _, err := m.AddModem(ctx, c); err != nil {
				logger.Log.Errorf("Failed to start modem on %s: %v", c.Port, err)
			}
		}()
	}

	if !m.opts.Serial.AutoScan {
		return
	}
	scanInterval := m.opts.Serial.ScanInterval
	if scanInterval <= 0 {
		scanInterval = 5 * time.Second
	}
	logger.Log.Info("Worker Manager started, scanning ports every ", scanInterval)

	// Initial scan
	m.ScanAndManage()

	go func() {
		ticker := time.NewTicker(scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.ScanAndManage()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, w := range m.workers {
		w.Stop()
		delete(m.workers, p)
	}
	clear(m.activeICCIDs)
}

// AddModem starts a worker for cfg and waits until the modem is
// initialized. A modem whose SIM cannot be unlocked is kept, halted.
func (m *Manager) AddModem(ctx context.Context, cfg config.ModemConfig) (*ModemWorker, error) {
	if cfg.Port == "" {
		return nil, ErrInvalidConfig
	}
	cfg = cfg.WithDefaults(m.opts.Serial.Defaults)
	if _, err := SerialMode(cfg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.workers[cfg.Port]; exists || m.starting[cfg.Port] {
		m.mu.Unlock()
		return nil, ErrExists
	}
	m.starting[cfg.Port] = true
	m.mu.Unlock()

	w := NewModemWorker(Options{
		Modem:  cfg,
		AT:     m.opts.AT,
		SMS:    m.opts.SMS,
		Dialer: m.opts.Dial(cfg),
		Bus:    m.opts.Bus,
		Claim:  m.RegisterICCID,
	})
	err := w.Start(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.starting, cfg.Port)
	if err != nil && !errors.Is(err, ErrHalted) {
		m.unregisterPort(cfg.Port)
		return nil, err
	}
	m.workers[cfg.Port] = w
	if err != nil {
		logger.Log.Warnf("Modem on %s is halted: %v", cfg.Port, err)
	}

	// Forget the worker once it stops on its own, e.g. after a read error.
	go func() {
		<-w.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.workers[w.PortName] == w {
			delete(m.workers, w.PortName)
			m.unregisterPort(w.PortName)
		}
	}()
	return w, nil
}

// RemoveModem stops the worker with the given id or port.
func (m *Manager) RemoveModem(id string) error {
	w, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	m.remove(w)
	return nil
}

func (m *Manager) remove(w *ModemWorker) {
	w.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workers[w.PortName] == w {
		delete(m.workers, w.PortName)
	}
	m.unregisterPort(w.PortName)
}

// Restart reboots the modem with the given id and starts a new session on
// the same port once it is back.
func (m *Manager) Restart(ctx context.Context, id string) (*ModemWorker, error) {
	w, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if !w.Halted() {
		if err := w.Restart(ctx); err != nil {
			logger.Log.Warnf("[%s] Restart command failed: %v", w.PortName, err)
		}
	}
	m.remove(w)

	if m.opts.RestartDelay > 0 {
		t := time.NewTimer(m.opts.RestartDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.AddModem(ctx, w.Config())
}

// Get finds a worker by modem id or port name.
func (m *Manager) Get(id string) (*ModemWorker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.workers[id]; ok {
		return w, true
	}
	for _, w := range m.workers {
		if w.ID() == id {
			return w, true
		}
	}
	return nil, false
}

// List returns the workers ordered by port.
func (m *Manager) List() []*ModemWorker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ModemWorker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PortName < out[j].PortName })
	return out
}

// ScanAndManage starts workers on new serial ports and stops the workers of
// ports that disappeared. A port that did not answer is not probed again
// until it disappears.
func (m *Manager) ScanAndManage() {
	ports, err := m.opts.Ports()
	if err != nil {
		logger.Log.Errorf("Failed to list serial ports: %v", err)
		return
	}

	// Filter excluded ports
	validPorts := make(map[string]bool)
	for _, p := range ports {
		if !slices.Contains(m.opts.Serial.ExcludePorts, p) {
			validPorts[p] = true
		}
	}

	m.mu.Lock()
	var found []string
	for p := range validPorts {
		if _, exists := m.workers[p]; !exists && !m.starting[p] && !m.failed[p] {
			found = append(found, p)
		}
	}
	var gone []*ModemWorker
	for p, w := range m.workers {
		if !validPorts[p] {
			gone = append(gone, w)
		}
	}
	for p := range m.failed {
		if !validPorts[p] {
			delete(m.failed, p)
		}
	}
	m.mu.Unlock()

	for _, w := range gone {
		logger.Log.Infof("Port %s gone. Stopping worker...", w.PortName)
		m.remove(w)
	}
	for _, p := range found {
		logger.Log.Infof("Found new port: %s. Starting worker...", p)
		cfg := m.opts.Serial.Defaults
		cfg.Port = p
		go func() {
			if _, err := m.AddModem(context.Background(), cfg); err != nil && !errors.Is(err, ErrExists) {
				m.mu.Lock()
				m.failed[p] = true
				m.mu.Unlock()
			}
		}()
	}
}

// RegisterICCID claims iccid for port. It fails when another port already
// serves the same SIM.
func (m *Manager) RegisterICCID(port, iccid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingPort, exists := m.activeICCIDs[iccid]; exists {
		if existingPort != port {
			return false // Already claimed by another port
		}
		// Same port, ok
		return true
	}

	m.activeICCIDs[iccid] = port
	return true
}

// unregisterPort releases the SIM claimed by port. m.mu must be held.
func (m *Manager) unregisterPort(port string) {
	for iccid, p := range m.activeICCIDs {
		if p == port {
			delete(m.activeICCIDs, iccid)
		}
	}
}
