// Package motor drives the robot's three actuators: the left and right drive
// motors and the arm.
package motor

import (
	"log/slog"
	"sync"
)

// Motor is a speed-controlled actuator. Speeds are in degrees per second;
// the sign selects direction. Run keeps the motor turning until Stop or the
// next Run.
type Motor interface {
	Run(degPerSec float64) error
	Stop() error
}

// Sim is an in-memory Motor. It records what it was told and logs it.
type Sim struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	speed   float64
	running bool
	runs    int
	stops   int
	err     error
}

// NewSim returns a stopped simulated motor.
func NewSim(name string, logger *slog.Logger) *Sim {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sim{name: name, logger: logger}
}

func (m *Sim) Run(degPerSec float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.speed = degPerSec
	m.running = true
	m.runs++
	m.logger.Debug("motor run", "motor", m.name, "deg_per_sec", degPerSec)
	return nil
}

func (m *Sim) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.speed = 0
	m.running = false
	m.stops++
	m.logger.Debug("motor stop", "motor", m.name)
	return nil
}

// Speed returns the commanded speed and whether the motor is running.
func (m *Sim) Speed() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed, m.running
}

// Counts returns how many Run and Stop calls succeeded.
func (m *Sim) Counts() (runs, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, m.stops
}

// FailWith makes subsequent calls return err. nil restores normal behavior.
func (m *Sim) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
