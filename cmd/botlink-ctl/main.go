package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"botlink/internal/channel"
	"botlink/internal/command"
	"botlink/internal/config"
	"botlink/internal/pairing"
	"botlink/internal/status"
)

// ============================================================================
// botlink-ctl - operator tool
// ============================================================================
// Usage:
//   botlink-ctl status [--watch] [--socket PATH]
//   botlink-ctl send TOKEN [--robot-url URL] [--secret-file PATH]
//   botlink-ctl token --secret-file PATH [--controller NAME] [--robot NAME]
// ============================================================================

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "status":
		return runStatus(ctx, args[1:], out)
	case "send":
		return runSend(ctx, args[1:], out)
	case "token":
		return runToken(args[1:], out)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  botlink-ctl status [--watch] [--socket PATH]")
	fmt.Fprintln(w, "        Print the robot's actuator state")
	fmt.Fprintln(w, "  botlink-ctl send TOKEN [--robot-url URL] [--secret-file PATH]")
	fmt.Fprintln(w, "        Send one command token to the robot (e.g. STOP_ALL)")
	fmt.Fprintln(w, "  botlink-ctl token --secret-file PATH [--controller NAME] [--robot NAME]")
	fmt.Fprintln(w, "        Print a pairing token")
}

func runStatus(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	socket := fs.String("socket", status.DefaultSocketPath, "robot status socket")
	watch := fs.BoolP("watch", "w", false, "keep printing snapshots")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := status.Dial(config.ExpandPath(*socket))
	if err != nil {
		return err
	}
	defer c.Close()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		snap, err := c.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, formatSnapshot(snap))
		if !*watch {
			return nil
		}
	}
}

func formatSnapshot(s status.Snapshot) string {
	controller := s.Controller
	if controller == "" {
		controller = "-"
	}
	last := "-"
	if s.LastCommand != command.None {
		last = fmt.Sprintf("%s (%s ago)", s.LastCommand, s.At.Sub(s.LastCommandAt).Round(time.Millisecond))
	}
	return fmt.Sprintf("%s %s controller=%s link=%s driving=%t arm=%t last=%s rejected=%d watchdog=%d",
		s.At.Format("15:04:05.000"), s.Robot, controller, upDown(s.LinkUp),
		s.Driving, s.ArmMoving, last, s.Rejected, s.WatchdogTrips)
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func runSend(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	robotURL := fs.String("robot-url", "ws://127.0.0.1:8765", "robot base URL")
	secretFile := fs.String("secret-file", "", "pairing secret file")
	robot := fs.String("robot", pairing.DefaultRobot, "robot name")
	timeout := fs.Duration("timeout", 5*time.Second, "connect timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("send requires exactly one token")
	}
	cmd, err := command.Parse(fs.Arg(0))
	if err != nil {
		return err
	}

	opts := channel.DialOptions{HandshakeTimeout: *timeout}
	if *secretFile != "" {
		token, err := issue(*secretFile, "botlink-ctl", *robot)
		if err != nil {
			return err
		}
		opts.Token = token
	}

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	conn, err := channel.DialWebsocket(dialCtx, *robotURL, opts, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send(cmd.String()); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %s\n", cmd)
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	secretFile := fs.String("secret-file", "", "pairing secret file")
	controller := fs.String("controller", pairing.DefaultController, "controller name")
	robot := fs.String("robot", pairing.DefaultRobot, "robot name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secretFile == "" {
		return errors.New("--secret-file is required")
	}
	token, err := issue(*secretFile, *controller, *robot)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func issue(secretFile, controller, robot string) (string, error) {
	secret, err := pairing.LoadSecret(config.ExpandPath(secretFile))
	if err != nil {
		return "", err
	}
	return pairing.Issue(secret, controller, robot, pairing.DefaultTTL, time.Now())
}
