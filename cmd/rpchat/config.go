package main

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// appConfig holds the parsed CLI surface. -p, -l and -h are spec.md's
// literal surface (§6). -metrics-addr and -mdns are additive flags for
// ambient/domain concerns the distillation left external. Worker count,
// queue depth, inactivity timeout and audit interval are compile-time
// defaults (below) rather than flags, per spec.md §6's silence on them;
// they are only overridden directly in tests. maxClients is left at 0, so
// the reactor falls back to its RLIMIT_NOFILE-derived default.
type appConfig struct {
	port        int
	logPath     string
	logFormat   string
	logLevel    string
	metricsAddr string
	mdnsEnable  bool
	mdnsName    string

	workerCount     int
	workerQueue     int
	connTimeout     time.Duration
	auditInterval   time.Duration
	maxClients      int
	logMetricsEvery time.Duration
}

const (
	defaultPort          = 9001
	defaultWorkerCount   = 4
	defaultWorkerQueue   = 1024
	defaultConnTimeout   = 60 * time.Second
	defaultAuditInterval = 10 * time.Second
)

// parseFlags parses the CLI and validates the result. showHelp mirrors
// spec.md's "-h" exit-after-print behavior. Per spec.md §6 ("Environment:
// No environment variables are read"), flags are the only configuration
// surface; there is deliberately no env-var override layer.
func parseFlags(args []string) (*appConfig, bool, error) {
	fs := flag.NewFlagSet("rpchat", flag.ContinueOnError)
	port := fs.Int("p", defaultPort, "TCP listen port")
	logPath := fs.String("l", "", "Redirect stdout/stderr to this log file (created 0744, appended if present)")
	help := fs.Bool("h", false, "Print usage and exit")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	mdnsEnable := fs.Bool("mdns", false, "Advertise the listener via mDNS")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default rpchat-<hostname>)")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log a metrics snapshot")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *help {
		fs.Usage()
		return nil, true, nil
	}

	cfg := &appConfig{
		port:            *port,
		logPath:         *logPath,
		logFormat:       *logFormat,
		logLevel:        *logLevel,
		metricsAddr:     *metricsAddr,
		mdnsEnable:      *mdnsEnable,
		mdnsName:        *mdnsName,
		logMetricsEvery: *logMetricsEvery,
		workerCount:     defaultWorkerCount,
		workerQueue:     defaultWorkerQueue,
		connTimeout:     defaultConnTimeout,
		auditInterval:   defaultAuditInterval,
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("invalid port: %d", c.port)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.workerCount <= 0 {
		return fmt.Errorf("worker count must be > 0 (got %d)", c.workerCount)
	}
	if c.workerQueue < 0 {
		return fmt.Errorf("worker queue depth must be >= 0")
	}
	if c.connTimeout <= 0 {
		return fmt.Errorf("connection timeout must be > 0")
	}
	if c.auditInterval <= 0 {
		return fmt.Errorf("audit interval must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max clients must be >= 0")
	}
	return nil
}
