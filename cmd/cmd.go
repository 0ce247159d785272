// Package cmd parse args to configure application.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"peercall/coordinator"
	"peercall/media"
	"peercall/metric"
	"peercall/peer"
	"peercall/pkg/socket"
	"peercall/signal"
	"peercall/signaling"
)

// Modes of the application.
const (
	ModeRelay = "relay"
	ModeCall  = "call"
)

// DefaultRelayURL is the relay dialed in call mode.
const DefaultRelayURL = "ws://localhost:7070/ws"

// Below is the Error message for the command line.
var (
	ErrInvalidMode = errors.New("invalid mode")
	ErrExtraArgs   = errors.New("some args are not parsed")
)

// CallConfig is the configuration of the call mode.
type CallConfig struct {
	Coordinator coordinator.Config
	Signaling   signaling.Config
	Peer        peer.Config
	Duration    time.Duration // 0 runs until interrupted
}

// Config is the configuration of the application.
type Config struct {
	Mode     string
	LogLevel string
	LogFile  string
	Metrics  metric.Config
	Signal   signal.Config
	Call     CallConfig
}

// Run starts the application.
func Run() {
	config, err := SetupConfig(os.Stderr, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logFile, err := ConfigureLogger(os.Stdout, config.LogLevel, config.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Start(ctx, config); err != nil {
		slog.Error("exiting", "mode", config.Mode, "err", err)
		stop()
		os.Exit(1)
	}
}

// Start runs the configured mode until ctx is done.
func Start(ctx context.Context, config Config) error {
	var metrics *metric.Metrics
	if config.Metrics.Enabled {
		metrics = metric.New(config.Metrics)
		go func() {
			if err := metrics.Start(ctx); err != nil {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
		go metrics.UpdateSystemMetrics(ctx, metric.DefaultSystemInterval)
	}

	switch config.Mode {
	case ModeRelay:
		return runRelay(ctx, config.Signal, metrics)
	case ModeCall:
		return runCall(ctx, config.Call, metrics)
	}
	return fmt.Errorf("%q: %w", config.Mode, ErrInvalidMode)
}

func runRelay(ctx context.Context, config signal.Config, m *metric.Metrics) error {
	s := signal.New(config, m)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// runCall places a call with synthetic capture and logs the status line
// until ctx is done or the configured duration elapses.
func runCall(ctx context.Context, config CallConfig, m *metric.Metrics) error {
	factory, err := peer.NewPionFactory(config.Peer)
	if err != nil {
		return err
	}
	channel := signaling.New(config.Signaling, socket.WebSocketDialer{}, m)
	session := media.NewSession(media.NewSyntheticProvider())
	co := coordinator.New(config.Coordinator, channel, session, factory, m)

	logger := slog.Default().With("user", co.UserID())
	co.OnStatusChange(func(status string) {
		logger.Info("status", "status", status)
	})
	co.OnLocalTracks(func(tracks []media.Track) {
		logger.Info("local tracks", "count", len(tracks))
	})
	co.OnRemoteTrack(func(t peer.RemoteTrack) {
		logger.Info("remote track", "kind", t.Kind, "codec", t.Codec)
		go drain(t)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		co.Run(runCtx)
		close(done)
	}()
	defer func() {
		co.Close()
		<-done
	}()

	if err := co.StartCall(ctx); err != nil {
		return fmt.Errorf("start call: %w", err)
	}

	var timeout <-chan time.Time
	if config.Duration > 0 {
		timer := time.NewTimer(config.Duration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	}
	co.EndCall()
	return nil
}

// drain reads remote packets so the receive buffers do not fill up.
func drain(t peer.RemoteTrack) {
	if t.Track == nil {
		return
	}
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.Track.Read(buf); err != nil {
			return
		}
	}
}

// SetupConfig sets up and returns the configuration.
func SetupConfig(w io.Writer, args []string) (Config, error) {
	config, err := Parse(w, args)
	if err != nil {
		return config, err
	}
	if err = config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Validate validates the configuration of the selected mode.
func (c Config) Validate() error {
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	switch c.Mode {
	case ModeRelay:
		return c.Signal.Validate()
	case ModeCall:
		if err := c.Call.Coordinator.Validate(); err != nil {
			return err
		}
		if err := c.Call.Signaling.Validate(); err != nil {
			return err
		}
		return c.Call.Peer.Validate()
	}
	return fmt.Errorf("%q: %w", c.Mode, ErrInvalidMode)
}

// Parse parses the command line arguments. Values from the file named by
// -config apply to the flags that are not set explicitly.
func Parse(w io.Writer, args []string) (Config, error) {
	con := Config{}
	var (
		configFile string
		policy     string
		iceServers string
		audio      bool
		video      bool
	)
	peerDefaults := peer.DefaultConfig()

	fs := flag.NewFlagSet("peercall", flag.ContinueOnError)
	fs.SetOutput(w)
	fs.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	fs.StringVar(&con.Mode, "mode", ModeRelay, "relay or call")
	fs.StringVar(&con.LogLevel, "log-level", "info", "none, error, warn, info or debug")
	fs.StringVar(&con.LogFile, "log-file", "", "write JSON logs to this file")

	fs.BoolVar(&con.Metrics.Enabled, "metrics", false, "serve prometheus metrics")
	fs.IntVar(&con.Metrics.Port, "metrics-port", metric.DefaultMetricsPort, "metrics port")
	fs.StringVar(&con.Metrics.Path, "metrics-path", metric.DefaultMetricsPath, "metrics path")

	fs.IntVar(&con.Signal.Port, "port", signal.DefaultPort, "listening port")
	fs.StringVar(&con.Signal.KeyFile, "key", "", "key file path")
	fs.StringVar(&con.Signal.CertFile, "cert", "", "cert file path")
	fs.StringVar(&con.Signal.JWTSecret, "jwt-secret", "", "HS256 secret required from clients, empty disables auth")
	fs.IntVar(&con.Signal.Database.MaxParticipants, "max-participants", 0, "room capacity, 0 for unlimited")

	fs.StringVar(&con.Call.Signaling.URL, "relay", DefaultRelayURL, "relay websocket url")
	fs.StringVar(&con.Call.Signaling.Token, "token", "", "bearer token sent to the relay")
	fs.StringVar(&con.Call.Coordinator.RoomID, "room", coordinator.DefaultRoomID, "room to join")
	fs.StringVar(&con.Call.Coordinator.UserID, "user", "", "participant id, generated when empty")
	fs.StringVar(&policy, "policy", coordinator.RejoinRoom.String(), "on relay loss: rejoin or end")
	fs.BoolVar(&audio, "audio", true, "send audio")
	fs.BoolVar(&video, "video", true, "send video")
	fs.DurationVar(&con.Call.Duration, "duration", 0, "end the call after this long, 0 for no limit")
	fs.StringVar(&iceServers, "ice-servers", strings.Join(peerDefaults.ICEServers, ","), "comma separated STUN/TURN urls")
	fs.IntVar(&con.Call.Peer.MinUDPPort, "udp-min", 0, "minimum UDP port")
	fs.IntVar(&con.Call.Peer.MaxUDPPort, "udp-max", 0, "maximum UDP port")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("failed to parse args: %w", err)
	}
	if fs.NArg() != 0 {
		return Config{}, ErrExtraArgs
	}
	if configFile != "" {
		if err := applyFile(fs, configFile); err != nil {
			return Config{}, err
		}
	}

	p, err := coordinator.ParseReconnectPolicy(policy)
	if err != nil {
		return Config{}, err
	}
	con.Call.Coordinator.Policy = p
	con.Call.Coordinator.Constraints = media.Constraints{Audio: audio, Video: media.VideoConstraints{Enabled: video}}
	con.Call.Coordinator = con.Call.Coordinator.WithDefaults()
	con.Call.Signaling = con.Call.Signaling.WithDefaults()
	con.Call.Peer.ICEServers = splitList(iceServers)
	con.Call.Peer.LogLevel = con.LogLevel

	return con, nil
}

// applyFile reads the config file and sets every flag that was not given
// on the command line and has a key of the same name in the file.
func applyFile(fs *flag.FlagSet, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || explicit[f.Name] || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}
		value := v.GetString(f.Name)
		if list := v.GetStringSlice(f.Name); len(list) > 1 {
			value = strings.Join(list, ",")
		}
		if setErr := fs.Set(f.Name, value); setErr != nil {
			err = fmt.Errorf("config %s: %s: %w", path, f.Name, setErr)
		}
	})
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
