package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/linkbeat/internal/config"
	"github.com/HerbHall/linkbeat/internal/credential"
	"github.com/HerbHall/linkbeat/internal/freebox"
	"github.com/HerbHall/linkbeat/internal/heartbeat"
	"github.com/HerbHall/linkbeat/internal/report"
	"github.com/HerbHall/linkbeat/internal/version"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "pair":
			runPair(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// A local .env, if present, feeds the LB_* environment overrides.
	_ = godotenv.Load()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v.GetString("logging.level"), v.GetString("logging.format"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("linkbeat agent starting", zap.String("version", version.Short()))

	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Info("no configuration file found, using defaults and environment")
	}

	creds := credential.NewStore(cfg.Credentials.Path)
	device := freebox.NewClient(cfg.Router.APIBase, cfg.Router.AppID, creds, cfg.Router.Timeout, logger.Named("freebox"))

	reporter, err := report.NewReporter(cfg.Collector.URL, cfg.Collector.Secret, cfg.Collector.MaxRetries, cfg.Collector.RetryDelay, logger.Named("report"))
	if err != nil {
		logger.Fatal("invalid collector endpoint", zap.Error(err))
	}

	var prober heartbeat.LatencyProber
	if cfg.Probe.Enabled {
		if host := routerHost(cfg.Router.APIBase); host != "" {
			prober = heartbeat.NewProber(host, cfg.Probe.Count, cfg.Probe.Timeout, logger.Named("probe"))
		}
	}

	sched := heartbeat.NewScheduler(device, device, reporter, prober,
		cfg.Heartbeat.Interval, cfg.Heartbeat.SessionRefresh, logger.Named("heartbeat"))

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen, logger.Named("metrics"))
	}

	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	sched.Stop()
	logger.Info("linkbeat agent stopped")
}

// routerHost extracts the bare hostname for the ICMP probe.
func routerHost(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil {
		logger.Warn("metrics server exited", zap.Error(err))
	}
}
