// botlink-robot is the robot node. It accepts one controller on the control
// channel, polls the latest command every tick and drives the motors
// through the actuator state machine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	"botlink/internal/actuator"
	"botlink/internal/channel"
	"botlink/internal/config"
	"botlink/internal/feedback"
	"botlink/internal/logging"
	"botlink/internal/pairing"
	"botlink/internal/status"
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
		o           config.RobotOverrides
	)

	fs := pflag.NewFlagSet("botlink-robot", pflag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	name := fs.String("name", "", "robot name controllers pair with")
	listen := fs.String("listen", "", "control channel listen address (e.g. :8765)")
	driver := fs.String("driver", "", "motor driver: sim|hardware")
	watchdog := fs.Int("watchdog-ms", 0, "stop all motors after this long without a motion command (0 disables)")
	statusSocket := fs.String("status-socket", "", "unix socket for botlink-ctl (empty disables)")
	fb := fs.Bool("feedback", true, "play waiting/connected beeps")
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
		fmt.Printf("botlink-robot v%s\n", version)
		return nil
	}

	cfg := config.DefaultRobot()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadRobotFile(configPath); err != nil {
			return err
		}
	}

	set := func(flag string) bool { return fs.Changed(flag) }
	if set("name") {
		o.Name = name
	}
	if set("listen") {
		o.ListenAddr = listen
	}
	if set("driver") {
		o.Driver = driver
	}
	if set("watchdog-ms") {
		o.WatchdogMS = watchdog
	}
	if set("status-socket") {
		o.StatusPath = statusSocket
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
	log := logging.New(level, cfg.Logging.Options())
	defer log.Close()
	logger := log.With("node", "robot", "name", cfg.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	motors, closeMotors, err := openMotors(&cfg, logger)
	if err != nil {
		logger.Error("failed to open motors", "driver", cfg.Motors.Driver, "error", err)
		return err
	}
	defer closeMotors()

	secret, err := pairing.LoadSecret(config.ExpandPath(cfg.Link.PairingSecretFile))
	if err != nil {
		return err
	}
	if secret == nil {
		logger.Warn("pairing disabled, any controller may connect")
	}
	srv := channel.NewServer(channel.ServerConfig{
		Authorize:  pairing.Authorizer(secret, cfg.Name, "controller", nil),
		ICEServers: cfg.ICEServers(),
	}, logger)
	defer srv.Close()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe(ctx, cfg.Link.ListenAddr) }()

	speaker := feedback.Open(cfg.Feedback.Enabled, logger)
	speaker.Beep(feedback.WaitingFreq, feedback.ToneDuration)
	logger.Info("Robot waiting for connection...", "listen", cfg.Link.ListenAddr)

	connected := make(chan error, 1)
	go func() { connected <- srv.WaitConnected(ctx) }()
	select {
	case err := <-serveErr:
		// A bind failure arrives here before anyone can connect.
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("control channel: %w", err)
		}
		return nil
	case err := <-connected:
		if err != nil {
			return nil
		}
	}

	peer, _ := srv.Peer()
	logger.Info("controller connected", "controller", peer)
	speaker.Beep(feedback.ConnectedFreq, feedback.ToneDuration)
	speaker.Say("Connected.")

	dec := actuator.NewDecoder(srv, motors, clockwork.NewRealClock(), cfg.ActuatorConfig(), cfg.Tick(), logger)

	if cfg.Status.SocketPath != "" {
		st := status.NewServer(cfg.StatusInterval(), logger)
		go publishStatus(ctx, st, srv, dec, cfg.Name)
		go func() {
			if err := st.ListenAndServe(ctx, config.ExpandPath(cfg.Status.SocketPath)); err != nil {
				logger.Error("status server failed", "socket", cfg.Status.SocketPath, "error", err)
			}
		}()
	}

	go func() {
		if err := <-serveErr; err != nil && ctx.Err() == nil {
			logger.Error("control channel server stopped", "error", err)
			stop()
		}
	}()

	if err := dec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("robot stopped")
	return nil
}

// publishStatus feeds decoder states to the status server.
func publishStatus(ctx context.Context, st *status.Server, srv *channel.Server, dec *actuator.Decoder, robot string) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-dec.States():
			peer, _ := srv.Peer()
			st.Publish(status.FromState(robot, peer, s, time.Now()))
		}
	}
}
