package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/kiss-bridge/internal/bridge"
	"github.com/bigbag/kiss-bridge/internal/queue"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("invalid configuration"), exitSetup},
		{fmt.Errorf("%w: end of stream", bridge.ErrDeviceClosed), exitDeviceEOF},
		{fmt.Errorf("%w: fd 3 reported failed", bridge.ErrDescriptor), exitDescriptor},
		{fmt.Errorf("%w: write: boom", bridge.ErrDevice), exitIO},
		{fmt.Errorf("%w: readiness wait: boom", errLoop), exitIO},
	}
	for _, tc := range tests {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestResolveDefaults(t *testing.T) {
	opts := &runOptions{}
	cmd := opts.command()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := opts.resolve(cmd)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.Loopback() {
		t.Fatalf("expected loopback")
	}
	if cfg.ServerAddr() != "localhost:5555" || cfg.ClientAddr() != "localhost:5556" {
		t.Fatalf("unexpected addresses: %s %s", cfg.ServerAddr(), cfg.ClientAddr())
	}
}

func TestResolveFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.toml")
	body := "device = \"/dev/ttyS0\"\nbaud_rate = 57600\nclient_port = 7000\nheartbeat = \"2s\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts := &runOptions{}
	cmd := opts.command()
	err := cmd.ParseFlags([]string{
		"--config", path,
		"-b", "115200",
		"--queue-policy", "drop-oldest",
		"--poll-timeout", "10ms",
		"-q",
	})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := opts.resolve(cmd)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Device != "/dev/ttyS0" {
		t.Fatalf("device should come from file: %q", cfg.Device)
	}
	if cfg.BaudRate != 115200 {
		t.Fatalf("baud flag should win: %d", cfg.BaudRate)
	}
	if cfg.ClientPort != 7000 {
		t.Fatalf("client port should come from file: %d", cfg.ClientPort)
	}
	if cfg.Heartbeat != 2*time.Second || cfg.PollTimeout != 10*time.Millisecond {
		t.Fatalf("unexpected durations: %v %v", cfg.Heartbeat, cfg.PollTimeout)
	}
	if cfg.QueuePolicy != queue.DropOldest || !cfg.Quiet {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	opts := &runOptions{}
	cmd := opts.command()
	if err := cmd.ParseFlags([]string{"--client-port", "0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	_, err := opts.resolve(cmd)
	if err == nil || !strings.Contains(err.Error(), "client port") {
		t.Fatalf("expected client port error, got %v", err)
	}

	opts = &runOptions{}
	cmd = opts.command()
	if err := cmd.ParseFlags([]string{"--queue-policy", "block"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := opts.resolve(cmd); err == nil {
		t.Fatalf("expected queue policy error")
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "kiss-bridge dev") {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}

func TestProgressTrafficLogsFailures(t *testing.T) {
	var logged bytes.Buffer
	log := zerolog.New(&logged).Level(zerolog.DebugLevel)

	var total int
	fail := false
	fn := progressTraffic(func(n int) error {
		if fail {
			return errors.New("write /dev/stderr: broken pipe")
		}
		total += n
		return nil
	}, log)

	fn(bridge.ToDevice, 7)
	fn(bridge.FromDevice, 3)
	if total != 10 {
		t.Fatalf("unexpected total: %d", total)
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}

	fail = true
	fn(bridge.ToDevice, 1)
	out := logged.String()
	if !strings.Contains(out, "progress update failed") || !strings.Contains(out, "broken pipe") {
		t.Fatalf("expected failure to be logged: %q", out)
	}
	if !strings.Contains(out, `"level":"debug"`) {
		t.Fatalf("expected debug level: %q", out)
	}
}
