package motor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// ticksPerRev is the STS position resolution.
const ticksPerRev = 4096

// ServoConfig describes the arm's Feetech STS servo.
type ServoConfig struct {
	Port     string
	BaudRate int
	ID       int
	// RangeMin and RangeMax are the travel limits in raw ticks. ARM_UP
	// drives toward RangeMax.
	RangeMin int
	RangeMax int
	// IOTimeout bounds each bus transaction.
	IOTimeout time.Duration
}

// Servo runs a position-controlled servo as a speed-controlled Motor: Run
// sends it toward the end of its travel with a move time that yields the
// requested speed, Stop holds it where it is.
type Servo struct {
	cfg   ServoConfig
	bus   io.Closer
	servo servoIO
	group groupIO
}

// servoIO and groupIO are the parts of the feetech API the arm uses.
type servoIO interface {
	Position(ctx context.Context) (int, error)
	SetPositionWithTime(ctx context.Context, position, timeMs int) error
}

type groupIO interface {
	Positions(ctx context.Context) (feetech.PositionMap, error)
	SetPositions(ctx context.Context, positions feetech.PositionMap) error
	DisableAll(ctx context.Context) error
}

// OpenServo opens the bus, checks that the configured ID answers and
// enables torque.
func OpenServo(cfg ServoConfig) (*Servo, error) {
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 500 * time.Millisecond
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open servo bus %s: %w", cfg.Port, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	found, err := bus.Scan(ctx, cfg.ID, cfg.ID)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan servo %d: %w", cfg.ID, err)
	}
	var servo *feetech.Servo
	for _, s := range found {
		if s.ID == cfg.ID {
			servo = feetech.NewServo(bus, s.ID, s.Model)
		}
	}
	if servo == nil {
		bus.Close()
		return nil, fmt.Errorf("servo %d not found on %s", cfg.ID, cfg.Port)
	}
	if err := servo.Enable(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("enable servo %d: %w", cfg.ID, err)
	}

	return &Servo{
		cfg:   cfg,
		bus:   bus,
		servo: servo,
		group: feetech.NewServoGroupByIDs(bus, cfg.ID),
	}, nil
}

func (s *Servo) Run(degPerSec float64) error {
	if degPerSec == 0 {
		return s.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.IOTimeout)
	defer cancel()

	pos, err := s.servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("read servo %d position: %w", s.cfg.ID, err)
	}
	target := s.cfg.RangeMax
	if degPerSec < 0 {
		target = s.cfg.RangeMin
	}
	if err := s.servo.SetPositionWithTime(ctx, target, moveTimeMs(pos, target, degPerSec)); err != nil {
		return fmt.Errorf("move servo %d: %w", s.cfg.ID, err)
	}
	return nil
}

func (s *Servo) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.IOTimeout)
	defer cancel()

	held, err := s.group.Positions(ctx)
	if err != nil {
		return fmt.Errorf("read servo %d position: %w", s.cfg.ID, err)
	}
	if err := s.group.SetPositions(ctx, held); err != nil {
		return fmt.Errorf("hold servo %d: %w", s.cfg.ID, err)
	}
	return nil
}

// Close releases torque and the bus.
func (s *Servo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.IOTimeout)
	defer cancel()
	var errs []error
	if err := s.group.DisableAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disable servo %d: %w", s.cfg.ID, err))
	}
	if err := s.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// moveTimeMs is how long a move from pos to target takes at degPerSec.
func moveTimeMs(pos, target int, degPerSec float64) int {
	speed := math.Abs(degPerSec)
	if speed == 0 {
		return 0
	}
	ticks := math.Abs(float64(target - pos))
	deg := ticks * 360 / ticksPerRev
	return int(math.Round(deg / speed * 1000))
}
