// Package config resolves the concentrator's environment-variable
// configuration (caarlos0/env, as the teacher's cmd/production/main.go
// does) together with the peripheral CLI surface and PID/marker-file
// bookkeeping spec.md §6 names as external collaborators, not core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Env holds every environment-derived setting. LoadBalancer and
// ServiceJunction are the "configuration provider" collaborator spec.md
// §6 describes: comma-separated host lists consulted only when a
// request omits Server.
type Env struct {
	ListenAddress string `env:"CONCENTRATOR_LISTEN_ADDRESS" envDefault:":7678"`

	LoadBalancer    string `env:"CONCENTRATOR_LOAD_BALANCER"`
	ServiceJunction string `env:"CONCENTRATOR_SERVICE_JUNCTION"`

	MetricsPort int `env:"CONCENTRATOR_METRICS_PORT" envDefault:"9090"`
	HealthPort  int `env:"CONCENTRATOR_HEALTH_PORT"  envDefault:"8080"`

	LogLevel  string `env:"CONCENTRATOR_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"CONCENTRATOR_LOG_FORMAT" envDefault:"json"`

	BreakerMaxFailures      int           `env:"CONCENTRATOR_BREAKER_MAX_FAILURES"      envDefault:"5"`
	BreakerResetTimeout     time.Duration `env:"CONCENTRATOR_BREAKER_RESET_TIMEOUT"     envDefault:"60s"`
	BreakerSuccessThreshold int           `env:"CONCENTRATOR_BREAKER_SUCCESS_THRESHOLD" envDefault:"2"`
	ProbeInterval           time.Duration `env:"CONCENTRATOR_PROBE_INTERVAL"            envDefault:"30s"`

	MaxGoroutines     int `env:"CONCENTRATOR_MAX_GOROUTINES"      envDefault:"50000"`
	MaxQueuedBacklog  int `env:"CONCENTRATOR_MAX_QUEUED_BACKLOG"  envDefault:"10000"`

	ShutdownTimeout time.Duration `env:"CONCENTRATOR_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// CLI holds the peripheral command-line surface from spec.md §6.
type CLI struct {
	ConfDir string
	Daemon  bool
	DataDir string
	Email   string
	Help    bool
	Version bool
}

// ParseFlags parses args (normally os.Args[1:]) into a CLI, matching the
// documented flag set exactly: -c/--conf, -d/--daemon, --data,
// -e/--email, -h/--help, -v/--version.
func ParseFlags(args []string) (CLI, error) {
	fs := pflag.NewFlagSet("concentrator", pflag.ContinueOnError)
	cli := CLI{}
	fs.StringVarP(&cli.ConfDir, "conf", "c", "", "configuration directory")
	fs.BoolVarP(&cli.Daemon, "daemon", "d", false, "run as a daemon")
	fs.StringVar(&cli.DataDir, "data", "/var/lib/concentrator", "data directory for PID/marker files")
	fs.StringVarP(&cli.Email, "email", "e", "", "alert notification address")
	fs.BoolVarP(&cli.Help, "help", "h", false, "show usage")
	fs.BoolVarP(&cli.Version, "version", "v", false, "show version")
	if err := fs.Parse(args); err != nil {
		return CLI{}, err
	}
	return cli, nil
}

// Load reads a .env file if present (silently ignoring its absence, as
// the teacher's main.go does) and then parses Env from the process
// environment.
func Load() (Env, error) {
	if cwd, err := os.Getwd(); err == nil {
		_ = godotenv.Load(filepath.Join(cwd, ".env"))
	}
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return e, nil
}

// WriteStartupFiles writes the PID file (<data>/.pid) and marker file
// (<data>/.start) spec.md §6 names as startup bookkeeping, creating
// dataDir if needed.
func WriteStartupFiles(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("config: create data dir: %w", err)
	}
	pidPath := filepath.Join(dataDir, ".pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("config: write pid file: %w", err)
	}
	startPath := filepath.Join(dataDir, ".start")
	if err := os.WriteFile(startPath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("config: write start marker: %w", err)
	}
	return nil
}

// RemovePIDFile cleans up the PID file on shutdown. Errors are not fatal
// to the caller since the process is exiting regardless.
func RemovePIDFile(dataDir string) {
	os.Remove(filepath.Join(dataDir, ".pid"))
}
