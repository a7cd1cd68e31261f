// Package config holds the YAML configuration for both botlink nodes.
//
// Every node starts from compiled-in defaults, a config file is decoded on
// top of them, and command-line flags override individual fields. Validate
// is called last so the rest of the code can assume a well-formed config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"

	"botlink/internal/logging"
)

const (
	TransportWebsocket = "websocket"
	TransportWebRTC    = "webrtc"
)

// ICEServer is one STUN/TURN server for the webrtc transport.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type FeedbackConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File, if set, receives a copy of the log with size-based rotation.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

func defaultLogging() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// Options converts the logging section for logging.New.
func (l LoggingConfig) Options() logging.Options {
	return logging.Options{
		File:       ExpandPath(l.File),
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
	}
}

func (l LoggingConfig) validate() error {
	if l.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := logging.Parse(l.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if l.File != "" && l.MaxSizeMB <= 0 {
		return errors.New("logging.max_size_mb must be > 0 when logging.file is set")
	}
	if l.MaxBackups < 0 {
		return errors.New("logging.max_backups must be >= 0")
	}
	return nil
}

// decodeFile decodes the YAML document at path into out, which must already
// hold the defaults. Unknown keys and trailing documents are errors.
func decodeFile(path string, out any) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return errors.New("decode config yaml: unexpected trailing document")
	}
	return nil
}

func iceServers(in []ICEServer) []webrtc.ICEServer {
	if len(in) == 0 {
		return nil
	}
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

func validateICE(prefix string, in []ICEServer) error {
	for i, s := range in {
		if len(s.URLs) == 0 {
			return fmt.Errorf("%s[%d].urls must not be empty", prefix, i)
		}
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
