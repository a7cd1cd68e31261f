package motor

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Sabertooth packetized serial op-codes (Dimension Engineering).
const (
	stMotor1Forward  byte = 0x00
	stMotor1Backward byte = 0x01
	stMotor2Forward  byte = 0x04
	stMotor2Backward byte = 0x05
	stSerialTimeout  byte = 0x0e
	stBaudSync       byte = 0xaa
)

// stMaxValue is full power, and the largest timeout value.
const stMaxValue = 0x7f

// SabertoothConfig describes a Sabertooth dual motor driver on a serial port.
type SabertoothConfig struct {
	Port     string
	BaudRate int
	Address  byte
	// MaxSpeed is the speed in deg/s that maps to full power.
	MaxSpeed float64
	// Timeout makes the driver stop both motors on its own if no packet
	// arrives within it. Resolution is 100ms; zero disables.
	Timeout time.Duration
}

// Sabertooth owns the serial link to the driver. Channel 1 and 2 are the
// two motor outputs.
type Sabertooth struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	address  byte
	maxSpeed float64
}

// OpenSabertooth opens the port, sends the autobaud byte and configures the
// driver's serial timeout.
func OpenSabertooth(cfg SabertoothConfig) (*Sabertooth, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open sabertooth port %s: %w", cfg.Port, err)
	}
	s := newSabertooth(port, cfg.Address, cfg.MaxSpeed)
	s.closer = port

	if _, err := port.Write([]byte{stBaudSync}); err != nil {
		port.Close()
		return nil, fmt.Errorf("sabertooth autobaud: %w", err)
	}
	if err := s.write(stSerialTimeout, timeoutValue(cfg.Timeout)); err != nil {
		port.Close()
		return nil, fmt.Errorf("sabertooth serial timeout: %w", err)
	}
	return s, nil
}

func newSabertooth(w io.Writer, address byte, maxSpeed float64) *Sabertooth {
	return &Sabertooth{w: w, address: address, maxSpeed: maxSpeed}
}

// Channel returns the Motor wired to output 1 or 2.
func (s *Sabertooth) Channel(n int) (Motor, error) {
	switch n {
	case 1:
		return &sabertoothChannel{s: s, fwd: stMotor1Forward, back: stMotor1Backward}, nil
	case 2:
		return &sabertoothChannel{s: s, fwd: stMotor2Forward, back: stMotor2Backward}, nil
	}
	return nil, fmt.Errorf("sabertooth has no channel %d", n)
}

// Close stops both outputs and releases the port.
func (s *Sabertooth) Close() error {
	s.write(stMotor1Forward, 0)
	s.write(stMotor2Forward, 0)
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Sabertooth) write(cmd, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(packet(s.address, cmd, value))
	return err
}

// level scales a speed to the driver's 0..127 power range.
func (s *Sabertooth) level(degPerSec float64) byte {
	if s.maxSpeed <= 0 {
		return 0
	}
	v := math.Round(math.Abs(degPerSec) / s.maxSpeed * stMaxValue)
	if v > stMaxValue {
		v = stMaxValue
	}
	return byte(v)
}

// packet frames one command: address, command, value, 7-bit checksum.
func packet(address, cmd, value byte) []byte {
	return []byte{address, cmd, value, (address + cmd + value) & 0x7f}
}

func timeoutValue(d time.Duration) byte {
	if d <= 0 {
		return 0
	}
	v := (d + 99*time.Millisecond) / (100 * time.Millisecond)
	if v > stMaxValue {
		v = stMaxValue
	}
	return byte(v)
}

type sabertoothChannel struct {
	s         *Sabertooth
	fwd, back byte
}

func (c *sabertoothChannel) Run(degPerSec float64) error {
	op := c.fwd
	if degPerSec < 0 {
		op = c.back
	}
	return c.s.write(op, c.s.level(degPerSec))
}

func (c *sabertoothChannel) Stop() error {
	return c.s.write(c.fwd, 0)
}
