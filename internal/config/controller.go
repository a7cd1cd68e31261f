package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"botlink/internal/buttons"
	"botlink/internal/encoder"
	"botlink/internal/pairing"
)

const (
	InputEvdev  = "evdev"
	InputPanel  = "panel"
	InputStatic = "static"
)

// Controller is the configuration of the handheld node.
type Controller struct {
	Name     string         `yaml:"name"`
	Robot    string         `yaml:"robot"`
	Link     ControllerLink `yaml:"link"`
	Input    InputConfig    `yaml:"input"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ControllerLink struct {
	Transport string `yaml:"transport"`
	RobotURL  string `yaml:"robot_url"`
	// ConnectTimeoutMS bounds the one-time connect step.
	ConnectTimeoutMS int `yaml:"connect_timeout_ms"`
	// ExitDelayMS is how long the process lingers after a failed connect
	// before exiting.
	ExitDelayMS       int         `yaml:"exit_delay_ms"`
	PairingSecretFile string      `yaml:"pairing_secret_file,omitempty"`
	ICEServers        []ICEServer `yaml:"ice_servers,omitempty"`
}

type InputConfig struct {
	Source  string   `yaml:"source"`
	Devices []string `yaml:"devices,omitempty"`
	// Keys maps a button name (up, down, left, right, center) to a Linux
	// key code. Buttons left out keep their default code.
	Keys        map[string]uint16 `yaml:"keys,omitempty"`
	PanelHoldMS int               `yaml:"panel_hold_ms"`
}

// DefaultController returns the compiled-in controller configuration.
func DefaultController() Controller {
	return Controller{
		Name:  pairing.DefaultController,
		Robot: pairing.DefaultRobot,
		Link: ControllerLink{
			Transport:        TransportWebsocket,
			RobotURL:         "ws://127.0.0.1:8765",
			ConnectTimeoutMS: 10000,
			ExitDelayMS:      5000,
		},
		Input: InputConfig{
			Source:      InputEvdev,
			Devices:     []string{"/dev/input/by-path/platform-gpio_keys-event"},
			PanelHoldMS: 120,
		},
		Feedback: FeedbackConfig{Enabled: true},
		Logging:  defaultLogging(),
	}
}

// LoadControllerFile loads a controller config on top of the defaults.
func LoadControllerFile(path string) (Controller, error) {
	cfg := DefaultController()
	if err := decodeFile(path, &cfg); err != nil {
		return Controller{}, err
	}
	return cfg, nil
}

// ControllerOverrides are flag values applied on top of a loaded config.
// A nil field was not set on the command line.
type ControllerOverrides struct {
	Name      *string
	Robot     *string
	Transport *string
	RobotURL  *string
	Source    *string
	Devices   *[]string
	Feedback  *bool
	LogLevel  *string
	LogFile   *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it holds a zero value.
func (o ControllerOverrides) Apply(cfg *Controller) {
	if cfg == nil {
		return
	}
	if o.Name != nil {
		cfg.Name = *o.Name
	}
	if o.Robot != nil {
		cfg.Robot = *o.Robot
	}
	if o.Transport != nil {
		cfg.Link.Transport = *o.Transport
	}
	if o.RobotURL != nil {
		cfg.Link.RobotURL = *o.RobotURL
	}
	if o.Source != nil {
		cfg.Input.Source = *o.Source
	}
	if o.Devices != nil {
		cfg.Input.Devices = append([]string(nil), (*o.Devices)...)
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

// Validate checks the controller config after defaults, file and overrides
// have been applied.
func (c *Controller) Validate() error {
	if c.Name == "" {
		return errors.New("name must not be empty")
	}
	if c.Robot == "" {
		return errors.New("robot must not be empty")
	}

	switch c.Link.Transport {
	case TransportWebsocket, TransportWebRTC:
	default:
		return fmt.Errorf("link.transport must be %q or %q", TransportWebsocket, TransportWebRTC)
	}
	if c.Link.RobotURL == "" {
		return errors.New("link.robot_url must not be empty")
	}
	if c.Link.ConnectTimeoutMS <= 0 {
		return errors.New("link.connect_timeout_ms must be > 0")
	}
	if c.Link.ExitDelayMS < 0 {
		return errors.New("link.exit_delay_ms must be >= 0")
	}
	if err := validateICE("link.ice_servers", c.Link.ICEServers); err != nil {
		return err
	}

	switch c.Input.Source {
	case InputEvdev:
		if len(c.Input.Devices) == 0 {
			return errors.New("input.devices must not be empty for the evdev source")
		}
		for i, d := range c.Input.Devices {
			if d == "" {
				return fmt.Errorf("input.devices[%d] is empty", i)
			}
		}
	case InputPanel:
		if c.Input.PanelHoldMS <= 0 {
			return errors.New("input.panel_hold_ms must be > 0")
		}
	case InputStatic:
	default:
		return fmt.Errorf("input.source must be %q, %q or %q", InputEvdev, InputPanel, InputStatic)
	}
	if _, err := c.KeyMap(); err != nil {
		return err
	}

	return c.Logging.validate()
}

// KeyMap returns the default key map with input.keys applied.
func (c *Controller) KeyMap() (buttons.KeyMap, error) {
	km := buttons.DefaultKeyMap()
	for name, code := range c.Input.Keys {
		b, ok := buttons.ParseButton(name)
		if !ok {
			return nil, fmt.Errorf("input.keys: unknown button %q", name)
		}
		for k, v := range km {
			if v == b {
				delete(km, k)
			}
		}
		km[code] = b
	}
	return km, nil
}

// EncoderConfig returns the loop timing. It is part of the wire protocol
// and is the same for every deployment.
func (c *Controller) EncoderConfig() encoder.Config { return encoder.DefaultConfig() }

func (c *Controller) ConnectTimeout() time.Duration { return ms(c.Link.ConnectTimeoutMS) }
func (c *Controller) ExitDelay() time.Duration      { return ms(c.Link.ExitDelayMS) }
func (c *Controller) PanelHold() time.Duration      { return ms(c.Input.PanelHoldMS) }

func (c *Controller) ICEServers() []webrtc.ICEServer { return iceServers(c.Link.ICEServers) }
