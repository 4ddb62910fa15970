// Command xact-host polls an XACT unit over a serial line and prints its
// telemetry, or drives it from an interactive console.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"xactlink/host/config"
	"xactlink/host/logging"
	"xactlink/host/metrics"
	"xactlink/host/report"
	"xactlink/host/sim"
	"xactlink/host/xact"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("xact-host", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: xact-host [flags] <serial-device>\n       xact-host --simulate [flags]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	configPath, _ := fs.GetString("config")
	cfg, err := config.Load(configPath, fs)
	if err != nil {
		return err
	}
	if err := applyDevice(cfg, fs.Args()); err != nil {
		fs.Usage()
		return err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.Stringer("run_id", uuid.New()))

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New(prometheus.NewRegistry())
		srv := serveMetrics(cfg.Metrics, m, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connect(cfg, log, m)
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Console {
		mainLoop(ctx, newConsole(client, out, cfg.Output.Format), os.Stdin)
		return nil
	}
	return poll(ctx, client, cfg, out)
}

// applyDevice takes the serial device from the single positional argument
func applyDevice(cfg *config.Config, args []string) error {
	if cfg.Simulate {
		if len(args) > 0 {
			return fmt.Errorf("unexpected arguments with --simulate: %v", args)
		}
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one serial device argument, got %d", len(args))
	}
	cfg.Serial.Device = args[0]
	return nil
}

// linkConfig converts file/flag settings into client settings
func linkConfig(cfg *config.Config) (*xact.Config, error) {
	sync, err := cfg.SyncMarker()
	if err != nil {
		return nil, err
	}
	lc := xact.DefaultConfig()
	lc.WindowAddress = uint16(cfg.Telemetry.WindowAddress)
	lc.WindowLength = uint16(cfg.Telemetry.WindowLength)
	lc.Sync = sync
	lc.ResponseTimeout = cfg.Link.ResponseTimeout
	lc.CommandSpacing = cfg.Link.CommandSpacing
	lc.MissThreshold = cfg.Link.MissThreshold
	return lc, nil
}

func connect(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*xact.Client, error) {
	lc, err := linkConfig(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Simulate {
		log.Info("using simulated device")
		device := sim.New(sim.Config{
			ReadTimeout: cfg.Serial.ReadTimeout,
			Sync:        lc.Sync,
			Drift:       true,
		})
		return xact.New(device, lc, log, m), nil
	}

	log.Info("connecting", zap.String("device", cfg.Serial.Device), zap.Int("baud", cfg.Serial.Baud))
	client, err := xact.Dial(cfg.SerialPort(), lc, log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return client, nil
}

func serveMetrics(cfg config.MetricsConfig, m *metrics.Metrics, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, m.Handler())
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
	return srv
}

// poll runs the configured number of telemetry cycles, printing each
// snapshot, then prints the diode history
func poll(ctx context.Context, client *xact.Client, cfg *config.Config, out io.Writer) error {
	err := client.Poll(ctx, cfg.Poll.Cycles, cfg.Poll.Interval, func(c xact.Cycle) {
		if c.Err != nil {
			fmt.Fprintf(out, "cycle %d: data message not found\n", c.N)
			return
		}
		fmt.Fprintf(out, "--- cycle %d (generation %d)\n", c.N, c.Report.Generation)
		if err := report.WriteSnapshot(out, client.Snapshot(), client.Table(), cfg.Output.Format); err != nil {
			fmt.Fprintf(out, "print snapshot: %v\n", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Fprintln(out, "\nSun sensor diode history:")
	return report.WriteHistory(out, client.History())
}
