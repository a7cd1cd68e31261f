// botlink-controller is the handheld node. It samples the button panel,
// resolves one command per cycle and sends it to the robot over the control
// channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	"botlink/internal/buttons"
	"botlink/internal/channel"
	"botlink/internal/config"
	"botlink/internal/encoder"
	"botlink/internal/feedback"
	"botlink/internal/logging"
	"botlink/internal/pairing"
	"botlink/internal/panel"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
		o           config.ControllerOverrides
	)

	fs := pflag.NewFlagSet("botlink-controller", pflag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	name := fs.String("name", "", "controller name presented to the robot")
	robot := fs.String("robot", "", "name of the robot to pair with")
	transport := fs.String("transport", "", "link transport: websocket|webrtc")
	robotURL := fs.String("robot-url", "", "robot base URL (e.g. ws://ricardo.local:8765)")
	source := fs.String("input", "", "button source: evdev|panel|static")
	devices := fs.StringSlice("device", nil, "evdev input device (repeatable)")
	fb := fs.Bool("feedback", true, "play start/connect beeps")
	logLevel := fs.String("log-level", "", "log level: error, warn, info, debug")
	logFile := fs.String("log-file", "", "also write logs to this rotated file")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("botlink-controller v%s\n", version)
		return nil
	}

	cfg := config.DefaultController()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadControllerFile(configPath); err != nil {
			return err
		}
	}

	set := func(flag string) bool { return fs.Changed(flag) }
	if set("name") {
		o.Name = name
	}
	if set("robot") {
		o.Robot = robot
	}
	if set("transport") {
		o.Transport = transport
	}
	if set("robot-url") {
		o.RobotURL = robotURL
	}
	if set("input") {
		o.Source = source
	}
	if set("device") {
		o.Devices = devices
	}
	if set("feedback") {
		o.Feedback = fb
	}
	if set("log-level") {
		o.LogLevel = logLevel
	}
	if set("log-file") {
		o.LogFile = logFile
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := logging.Parse(cfg.Logging.Level)
	if err != nil {
		return err
	}

	// The panel owns the terminal, so console logs go to its log pane.
	var pnl *panel.Panel
	logOpts := cfg.Logging.Options()
	if cfg.Input.Source == config.InputPanel {
		pnl = panel.New(cfg.Robot, cfg.PanelHold(), clockwork.NewRealClock())
		logOpts.Writer = pnl.LogWriter()
		logOpts.Text = true
	}
	log := logging.New(level, logOpts)
	defer log.Close()
	logger := log.With("node", "controller", "name", cfg.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	speaker := feedback.Open(cfg.Feedback.Enabled, logger)

	src, closeSource, err := openSource(cfg, pnl, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	if pnl != nil {
		go func() {
			if err := pnl.Run(ctx); err != nil && !errors.Is(err, panel.ErrQuit) {
				logger.Error("panel failed", "error", err)
			}
			stop()
		}()
	}

	conn, err := establish(ctx, &cfg, connect, speaker, clockwork.NewRealClock(), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		select {
		case <-conn.Done():
			logger.Warn("link to robot lost, sends will fail until restart")
		case <-ctx.Done():
		}
	}()

	enc := encoder.New(src, conn, clockwork.NewRealClock(), cfg.EncoderConfig(), logger)
	if pnl != nil {
		enc.OnSend = pnl.ShowSent
	}
	if err := enc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("controller stopped")
	return nil
}

// link is the controller end of the control channel.
type link interface {
	Send(token string) error
	Done() <-chan struct{}
	Close() error
}

type dialFunc func(ctx context.Context, cfg *config.Controller, logger *slog.Logger) (link, error)

// establish makes the single connection attempt. On failure it reports,
// lingers for the configured exit delay and returns the error.
func establish(ctx context.Context, cfg *config.Controller, dial dialFunc, speaker feedback.Speaker, clk clockwork.Clock, logger *slog.Logger) (link, error) {
	speaker.Beep(feedback.WaitingFreq, feedback.ToneDuration)
	logger.Info("connecting to robot", "robot", cfg.Robot, "url", cfg.Link.RobotURL, "transport", cfg.Link.Transport)

	conn, err := dial(ctx, cfg, logger)
	if err != nil {
		logger.Error("connection failed", "robot", cfg.Robot, "error", err)
		speaker.Say("Connection failed.")
		clk.Sleep(cfg.ExitDelay())
		return nil, fmt.Errorf("connect to %s: %w", cfg.Robot, err)
	}

	logger.Info("connected", "robot", cfg.Robot)
	speaker.Beep(feedback.ConnectedFreq, feedback.ToneDuration)
	speaker.Say("Connected.")
	return conn, nil
}

func connect(ctx context.Context, cfg *config.Controller, logger *slog.Logger) (link, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	opts := channel.DialOptions{HandshakeTimeout: cfg.ConnectTimeout()}
	if cfg.Link.PairingSecretFile != "" {
		secret, err := pairing.LoadSecret(config.ExpandPath(cfg.Link.PairingSecretFile))
		if err != nil {
			return nil, err
		}
		token, err := pairing.Issue(secret, cfg.Name, cfg.Robot, pairing.DefaultTTL, time.Now())
		if err != nil {
			return nil, err
		}
		opts.Token = token
	}

	switch cfg.Link.Transport {
	case config.TransportWebRTC:
		return channel.DialWebRTC(ctx, cfg.Link.RobotURL, opts, cfg.ICEServers(), logger)
	default:
		return channel.DialWebsocket(ctx, cfg.Link.RobotURL, opts, logger)
	}
}

func openSource(cfg config.Controller, pnl *panel.Panel, logger *slog.Logger) (buttons.Source, func(), error) {
	switch cfg.Input.Source {
	case config.InputPanel:
		return pnl, func() {}, nil
	case config.InputStatic:
		logger.Warn("static input: no buttons will ever be pressed")
		return &buttons.Static{}, func() {}, nil
	}

	keys, err := cfg.KeyMap()
	if err != nil {
		return nil, nil, err
	}
	ev, err := buttons.OpenEvdev(cfg.Input.Devices, keys, logger)
	if err != nil {
		logger.Error("failed to open input device", "devices", cfg.Input.Devices, "error", err, "tip", "run as root or add user to 'input' group")
		return nil, nil, err
	}
	return ev, func() { ev.Close() }, nil
}
