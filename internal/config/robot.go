package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"botlink/internal/actuator"
	"botlink/internal/encoder"
	"botlink/internal/motor"
	"botlink/internal/pairing"
	"botlink/internal/status"
)

const (
	DriverSim      = "sim"
	DriverHardware = "hardware"
)

// Robot is the configuration of the robot node.
type Robot struct {
	Name     string         `yaml:"name"`
	Link     RobotLink      `yaml:"link"`
	Timing   RobotTiming    `yaml:"timing"`
	Motors   MotorsConfig   `yaml:"motors"`
	Status   StatusConfig   `yaml:"status"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type RobotLink struct {
	ListenAddr string `yaml:"listen_addr"`
	// PairingSecretFile holds the shared HS256 secret. Empty disables
	// pairing and any controller may connect.
	PairingSecretFile string      `yaml:"pairing_secret_file,omitempty"`
	ICEServers        []ICEServer `yaml:"ice_servers,omitempty"`
}

type RobotTiming struct {
	// WatchdogMS stops all motors when motion outlives the last continuous
	// command by this long. Zero disables it.
	WatchdogMS int `yaml:"watchdog_ms"`
}

type MotorsConfig struct {
	Driver string           `yaml:"driver"`
	Drive  SabertoothConfig `yaml:"drive"`
	Arm    FeetechConfig    `yaml:"arm"`
}

type SabertoothConfig struct {
	Port      string  `yaml:"port"`
	BaudRate  int     `yaml:"baud_rate"`
	Address   int     `yaml:"address"`
	MaxSpeed  float64 `yaml:"max_speed"`
	TimeoutMS int     `yaml:"timeout_ms"`
}

type FeetechConfig struct {
	Port      string `yaml:"port"`
	BaudRate  int    `yaml:"baud_rate"`
	ID        int    `yaml:"id"`
	RangeMin  int    `yaml:"range_min"`
	RangeMax  int    `yaml:"range_max"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type StatusConfig struct {
	// SocketPath is the unix socket for botlink-ctl. Empty disables the
	// status server.
	SocketPath string `yaml:"socket_path"`
	IntervalMS int    `yaml:"interval_ms"`
}

// DefaultRobot returns the compiled-in robot configuration.
func DefaultRobot() Robot {
	return Robot{
		Name: pairing.DefaultRobot,
		Link: RobotLink{
			ListenAddr: ":8765",
		},
		Timing: RobotTiming{
			WatchdogMS: int(actuator.DefaultWatchdog / time.Millisecond),
		},
		Motors: MotorsConfig{
			Driver: DriverSim,
			Drive: SabertoothConfig{
				Port:      "/dev/ttyUSB0",
				BaudRate:  9600,
				Address:   128,
				MaxSpeed:  actuator.DefaultDriveSpeed,
				TimeoutMS: 500,
			},
			Arm: FeetechConfig{
				Port:      "/dev/ttyUSB1",
				BaudRate:  1000000,
				ID:        1,
				RangeMin:  1024,
				RangeMax:  3072,
				TimeoutMS: 100,
			},
		},
		Status: StatusConfig{
			SocketPath: status.DefaultSocketPath,
			IntervalMS: int(status.DefaultInterval / time.Millisecond),
		},
		Feedback: FeedbackConfig{Enabled: true},
		Logging:  defaultLogging(),
	}
}

// LoadRobotFile loads a robot config on top of the defaults.
func LoadRobotFile(path string) (Robot, error) {
	cfg := DefaultRobot()
	if err := decodeFile(path, &cfg); err != nil {
		return Robot{}, err
	}
	return cfg, nil
}

// RobotOverrides are flag values applied on top of a loaded config. A nil
// field was not set on the command line.
type RobotOverrides struct {
	Name       *string
	ListenAddr *string
	Driver     *string
	WatchdogMS *int
	StatusPath *string
	Feedback   *bool
	LogLevel   *string
	LogFile    *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it holds a zero value.
func (o RobotOverrides) Apply(cfg *Robot) {
	if cfg == nil {
		return
	}
	if o.Name != nil {
		cfg.Name = *o.Name
	}
	if o.ListenAddr != nil {
		cfg.Link.ListenAddr = *o.ListenAddr
	}
	if o.Driver != nil {
		cfg.Motors.Driver = *o.Driver
	}
	if o.WatchdogMS != nil {
		cfg.Timing.WatchdogMS = *o.WatchdogMS
	}
	if o.StatusPath != nil {
		cfg.Status.SocketPath = *o.StatusPath
	}
	if o.Feedback != nil {
		cfg.Feedback.Enabled = *o.Feedback
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// Validate checks the robot config after defaults, file and overrides have
// been applied.
func (c *Robot) Validate() error {
	if c.Name == "" {
		return errors.New("name must not be empty")
	}
	if c.Link.ListenAddr == "" {
		return errors.New("link.listen_addr must not be empty")
	}
	if err := validateICE("link.ice_servers", c.Link.ICEServers); err != nil {
		return err
	}

	if c.Timing.WatchdogMS < 0 {
		return errors.New("timing.watchdog_ms must be >= 0")
	}
	// Held buttons are re-sent every resend interval plus up to one
	// controller tick; the watchdog has to outlast that.
	if w := ms(c.Timing.WatchdogMS); w > 0 && w <= encoder.DefaultResendInterval+encoder.DefaultTick {
		return fmt.Errorf("timing.watchdog_ms must be 0 or > %d",
			(encoder.DefaultResendInterval+encoder.DefaultTick)/time.Millisecond)
	}

	switch c.Motors.Driver {
	case DriverSim:
	case DriverHardware:
		if err := c.Motors.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("motors.driver must be %q or %q", DriverSim, DriverHardware)
	}

	if c.Status.SocketPath != "" && c.Status.IntervalMS <= 0 {
		return errors.New("status.interval_ms must be > 0")
	}

	return c.Logging.validate()
}

func (m *MotorsConfig) validate() error {
	d := m.Drive
	if d.Port == "" {
		return errors.New("motors.drive.port must not be empty")
	}
	if d.BaudRate <= 0 {
		return errors.New("motors.drive.baud_rate must be > 0")
	}
	if d.Address < 128 || d.Address > 135 {
		return errors.New("motors.drive.address must be between 128 and 135")
	}
	if d.MaxSpeed <= 0 {
		return errors.New("motors.drive.max_speed must be > 0")
	}
	if d.TimeoutMS < 0 {
		return errors.New("motors.drive.timeout_ms must be >= 0")
	}

	a := m.Arm
	if a.Port == "" {
		return errors.New("motors.arm.port must not be empty")
	}
	if a.BaudRate <= 0 {
		return errors.New("motors.arm.baud_rate must be > 0")
	}
	if a.ID < 0 || a.ID > 253 {
		return errors.New("motors.arm.id must be between 0 and 253")
	}
	if a.RangeMin >= a.RangeMax {
		return errors.New("motors.arm.range_min must be < motors.arm.range_max")
	}
	if a.TimeoutMS <= 0 {
		return errors.New("motors.arm.timeout_ms must be > 0")
	}
	return nil
}

// ActuatorConfig returns the fixed motion speeds with the configured
// watchdog.
func (c *Robot) ActuatorConfig() actuator.Config {
	cfg := actuator.DefaultConfig()
	cfg.Watchdog = ms(c.Timing.WatchdogMS)
	return cfg
}

func (c *Robot) SabertoothConfig() motor.SabertoothConfig {
	d := c.Motors.Drive
	return motor.SabertoothConfig{
		Port:     ExpandPath(d.Port),
		BaudRate: d.BaudRate,
		Address:  byte(d.Address),
		MaxSpeed: d.MaxSpeed,
		Timeout:  ms(d.TimeoutMS),
	}
}

func (c *Robot) ServoConfig() motor.ServoConfig {
	a := c.Motors.Arm
	return motor.ServoConfig{
		Port:      ExpandPath(a.Port),
		BaudRate:  a.BaudRate,
		ID:        a.ID,
		RangeMin:  a.RangeMin,
		RangeMax:  a.RangeMax,
		IOTimeout: ms(a.TimeoutMS),
	}
}

func (c *Robot) Tick() time.Duration           { return actuator.DefaultTick }
func (c *Robot) StatusInterval() time.Duration { return ms(c.Status.IntervalMS) }

func (c *Robot) ICEServers() []webrtc.ICEServer { return iceServers(c.Link.ICEServers) }
