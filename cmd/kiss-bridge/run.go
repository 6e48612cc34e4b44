package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/kiss-bridge/internal/bridge"
	"github.com/bigbag/kiss-bridge/internal/config"
	"github.com/bigbag/kiss-bridge/internal/datagram"
	"github.com/bigbag/kiss-bridge/internal/logging"
	"github.com/bigbag/kiss-bridge/internal/poll"
	"github.com/bigbag/kiss-bridge/internal/queue"
	"github.com/bigbag/kiss-bridge/internal/serial"
)

// errLoop marks failures of the running loop that are not tied to the device.
var errLoop = errors.New("bridge loop failed")

type runOptions struct {
	configPath    string
	device        string
	baud          int
	serverHost    string
	serverPort    int
	clientHost    string
	clientPort    int
	ttl           int
	maxPacket     int
	queueCapacity int
	queuePolicy   string
	pollTimeout   time.Duration
	heartbeat     time.Duration
	quiet         bool
	logLevel      string
	progress      bool
}

func newRunCmd() *cobra.Command {
	return (&runOptions{}).command()
}

func (o *runOptions) command() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge",
		Long: `Run the bridge until interrupted or until the device closes.

Settings come from the built-in defaults, then the --config file, then any
flag given on the command line.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve(cmd)
			if err != nil {
				return err
			}
			return runBridge(cmd.Context(), cfg, o.progress)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "TOML config file")
	f.StringVarP(&o.device, "device", "d", "", "Serial device (loopback if not specified)")
	f.IntVarP(&o.baud, "baud", "b", def.BaudRate, "Baud rate")
	f.StringVar(&o.serverHost, "server-host", def.ServerHost, "Local address to receive datagrams on")
	f.IntVar(&o.serverPort, "server-port", def.ServerPort, "Local port to receive datagrams on")
	f.StringVar(&o.clientHost, "client-host", def.ClientHost, "Destination address for datagrams")
	f.IntVar(&o.clientPort, "client-port", def.ClientPort, "Destination port for datagrams")
	f.IntVar(&o.ttl, "ttl", def.TTL, "Multicast TTL of outgoing datagrams (0 leaves the system default)")
	f.IntVar(&o.maxPacket, "max-packet-size", def.MaxPacketSize, "Largest datagram or frame accepted")
	f.IntVar(&o.queueCapacity, "queue-capacity", def.QueueCapacity, "Frames held per direction before dropping")
	f.StringVar(&o.queuePolicy, "queue-policy", def.QueuePolicy.String(), "Overflow policy: drop-newest or drop-oldest")
	f.DurationVar(&o.pollTimeout, "poll-timeout", def.PollTimeout, "Upper bound on one readiness wait (negative waits forever)")
	f.DurationVar(&o.heartbeat, "heartbeat", def.Heartbeat, "Send a lone frame delimiter after this much device idle time (0 disables)")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "Only log warnings and errors")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	f.BoolVar(&o.progress, "progress", false, "Show a live count of bytes moved through the device")
	return cmd
}

// resolve layers the config file and explicitly set flags over the defaults.
func (o *runOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Device = o.device
	}
	if flags.Changed("baud") {
		cfg.BaudRate = o.baud
	}
	if flags.Changed("server-host") {
		cfg.ServerHost = o.serverHost
	}
	if flags.Changed("server-port") {
		cfg.ServerPort = o.serverPort
	}
	if flags.Changed("client-host") {
		cfg.ClientHost = o.clientHost
	}
	if flags.Changed("client-port") {
		cfg.ClientPort = o.clientPort
	}
	if flags.Changed("ttl") {
		cfg.TTL = o.ttl
	}
	if flags.Changed("max-packet-size") {
		cfg.MaxPacketSize = o.maxPacket
	}
	if flags.Changed("queue-capacity") {
		cfg.QueueCapacity = o.queueCapacity
	}
	if flags.Changed("queue-policy") {
		p, err := queue.ParsePolicy(o.queuePolicy)
		if err != nil {
			return config.Config{}, err
		}
		cfg.QueuePolicy = p
	}
	if flags.Changed("poll-timeout") {
		cfg.PollTimeout = o.pollTimeout
	}
	if flags.Changed("heartbeat") {
		cfg.Heartbeat = o.heartbeat
	}
	if flags.Changed("quiet") {
		cfg.Quiet = o.quiet
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runBridge(ctx context.Context, cfg config.Config, progress bool) error {
	log := logging.New(logging.Options{Quiet: cfg.Quiet, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	sock, err := datagram.Listen(cfg.ServerAddr(), cfg.ClientAddr(), cfg.TTL)
	if err != nil {
		return fmt.Errorf("failed to open socket: %w", err)
	}
	defer sock.Close()

	poller, err := poll.New()
	if err != nil {
		return err
	}
	defer poller.Close()

	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithMaxPacket(cfg.MaxPacketSize),
		bridge.WithQueues(
			queue.New[[]byte](cfg.QueueCapacity, cfg.QueuePolicy),
			queue.New[[]byte](cfg.QueueCapacity, cfg.QueuePolicy),
		),
		bridge.WithPollTimeout(cfg.PollTimeout),
		bridge.WithHeartbeat(cfg.Heartbeat),
	}
	if progress {
		bar := progressbar.DefaultBytes(-1, "Bridging")
		defer bar.Finish()
		opts = append(opts, bridge.WithTraffic(progressTraffic(bar.Add, log)))
	}

	b := bridge.New(dev, sock, poller, opts...)
	log.Info().
		Str("device", dev.PortName()).
		Int("baud", dev.BaudRate()).
		Stringer("listen", sock.LocalAddr()).
		Stringer("destination", sock.Remote()).
		Msg("bridge started")

	err = b.Run(ctx)
	logStats(log, b.Stats())
	if err != nil {
		log.Error().Err(err).Msg("bridge stopped")
		if errors.Is(err, bridge.ErrDeviceClosed) || errors.Is(err, bridge.ErrDescriptor) || errors.Is(err, bridge.ErrDevice) {
			return err
		}
		return fmt.Errorf("%w: %w", errLoop, err)
	}
	log.Info().Msg("bridge stopped")
	return nil
}

func openDevice(cfg config.Config) (*serial.Port, error) {
	if cfg.Loopback() {
		dev, err := serial.OpenLoopback()
		if err != nil {
			return nil, fmt.Errorf("failed to open loopback device: %w", err)
		}
		return dev, nil
	}
	dev, err := serial.Open(cfg.Device, cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open port: %w", err)
	}
	return dev, nil
}

// progressTraffic feeds device traffic to add. A failed update only costs a
// redraw, so it is logged at debug level.
func progressTraffic(add func(int) error, log zerolog.Logger) func(bridge.Direction, int) {
	return func(dir bridge.Direction, n int) {
		if err := add(n); err != nil {
			log.Debug().Err(err).Stringer("direction", dir).Msg("progress update failed")
		}
	}
}

func logStats(log zerolog.Logger, st bridge.Stats) {
	ev := log.Info()
	if st.InvalidFrames > 0 || st.SendErrors > 0 || st.OutboundDropped > 0 || st.InboundDropped > 0 {
		ev = log.Warn()
	}
	ev.Object("stats", st).Msg("bridge totals")
}
