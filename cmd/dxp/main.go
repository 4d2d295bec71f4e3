package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/dxp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath    string
	flagLogLevel  string
	flagMetrics   string
	globalConfig  Config
	globalMetrics *dxp.Metrics
)

var mainCommand = &cobra.Command{
	Use:               "dxp",
	Short:             "Play draughts over DXP from the terminal",
	PersistentPreRunE: preRun,
	SilenceUsage:      true,
}

func init() {
	mainCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "", "set configuration file path")
	mainCommand.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level")
	mainCommand.PersistentFlags().StringVar(&flagMetrics, "metrics", "", "serve prometheus metrics on this address")
}

func main() {
	if err := mainCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

func preRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagMetrics != "" {
		cfg.Metrics.Listen = flagMetrics
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	cobra.OnFinalize(func() {
		_ = logger.Sync()
	})

	if cfg.Metrics.Listen != "" {
		globalMetrics = serveMetrics(cfg.Metrics.Listen)
	}
	globalConfig = cfg
	return nil
}

// serveMetrics exposes a private registry on addr and returns the session
// collectors registered with it.
func serveMetrics(addr string) *dxp.Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := dxp.NewMetrics(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zap.S().Infow("metrics server started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.S().Errorw("metrics server stopped", "error", err)
		}
	}()
	return metrics
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func sessionOptions(out *printer, extra ...dxp.Option) []dxp.Option {
	opts := []dxp.Option{
		dxp.LoggerOption(dxp.NewZapLogger(zap.L())),
		dxp.MetricsOption(globalMetrics),
		dxp.ReadTimeoutOption(globalConfig.ReadTimeout),
		dxp.OnErrorOption(func(err error) dxp.ErrorAction {
			out.Printf("error: %v", err)
			return dxp.Disconnect
		}),
	}
	return append(opts, extra...)
}
