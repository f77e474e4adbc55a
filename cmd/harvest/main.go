package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/harvester/pkg/config"
	"github.com/Sternrassler/harvester/pkg/errorlog"
	"github.com/Sternrassler/harvester/pkg/logging"
	"github.com/Sternrassler/harvester/pkg/metrics"
	"github.com/Sternrassler/harvester/pkg/shopify"
	"github.com/Sternrassler/harvester/pkg/throttle"
	"github.com/Sternrassler/harvester/pkg/transport"
)

// UserAgent is sent with every request.
const UserAgent = "harvester/0.1.0"

// ErrCompletedWithErrors is returned when a harvest reached its last page but
// skipped a malformed page or the API rejected at least one record.
var ErrCompletedWithErrors = errors.New("harvest completed with errors")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	m := NewMain()
	err := m.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(ExitCode(err))
}

// ExitCode maps the result of Run to a process exit code: 0 for a complete
// harvest, 2 when pages were skipped or records carried application errors
// and 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrCompletedWithErrors):
		return 2
	default:
		return 1
	}
}

// Main represents the program.
type Main struct {
	// HTTPClient performs API requests. Set before calling Run().
	HTTPClient *http.Client

	// Sleeper replaces real retry and throttle waits when set.
	Sleeper transport.Sleeper

	// Clock supplies the current time.
	Clock clock.Clock

	redis   *redis.Client
	metrics *http.Server
}

// NewMain returns a new instance of Main with defaults.
func NewMain() *Main {
	return &Main{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Clock:      clock.New(),
	}
}

// Close releases the Redis connection and stops the metrics server.
func (m *Main) Close() error {
	var errs []error
	if m.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, m.metrics.Shutdown(ctx))
		m.metrics = nil
	}
	if m.redis != nil {
		errs = append(errs, m.redis.Close())
		m.redis = nil
	}
	return errors.Join(errs...)
}

// Run executes the CLI with the given arguments.
func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	deps := &Dependencies{
		Ctx:    ctx,
		Stdout: stdout,
		Stderr: stderr,
		Clock:  m.Clock,
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("harvest"),
		kong.Description("Harvest paginated, rate-limited Shopify Admin API data."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no command specified. Run 'harvest --help' to see available commands")
	}
	if args[0] == "help" {
		args = []string{"--help"}
	}
	if wantsHelp(args) {
		_, _ = parser.Parse(args)
		return nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.MetricsAddr != "" {
		cfg.MetricsAddr = cli.MetricsAddr
	}
	deps.Config = cfg
	deps.Output = cli.Output

	if kongCtx.Command() == "config" {
		return kongCtx.Run(deps)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "Hint: run 'harvest config' to see the effective configuration")
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(cfg.LoggingConfig(stderr))
	deps.Logger = logger
	defer m.Close()

	if cfg.MetricsAddr != "" {
		if err := m.serveMetrics(cfg.MetricsAddr, logger); err != nil {
			return err
		}
	}

	sink, err := m.errorSink(ctx, cfg)
	if err != nil {
		return err
	}

	var retryOpts []transport.RetryOption
	var throttleOpts []throttle.Option
	if m.Sleeper != nil {
		retryOpts = append(retryOpts, transport.WithSleeper(m.Sleeper))
		throttleOpts = append(throttleOpts, throttle.WithSleeper(m.Sleeper))
	}

	deps.Store = shopify.Store{
		Name:        cfg.StoreName,
		APIVersion:  cfg.APIVersion,
		AccessToken: cfg.AccessToken,
		BaseURL:     cfg.BaseURL,
	}
	deps.Harvester = &Harvester{
		Executor: transport.NewRetrying(
			transport.NewHTTPSender(m.HTTPClient, UserAgent),
			cfg.RetryConfig(),
			logging.Component(logger, "transport"),
			retryOpts...,
		),
		Delayer:     throttle.NewController(cfg.ThrottleConfig(), logging.Component(logger, "throttle"), throttleOpts...),
		Sink:        sink,
		Pagination:  cfg.PaginationConfig(),
		Concurrency: cfg.Concurrency,
		Clock:       deps.Clock,
		Logger:      logger,
	}

	logger.Debug().
		Str("command", kongCtx.Command()).
		Str("store", deps.Store.Base()).
		Str("api_version", cfg.APIVersion).
		Msg("Starting harvest")

	return kongCtx.Run(deps)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.NewConfigFromFile(path)
	}
	return config.NewConfigFromEnv()
}

// errorSink writes to the configured file and, when an address is set, to
// Redis as well.
func (m *Main) errorSink(ctx context.Context, cfg *config.Config) (errorlog.Sink, error) {
	sinks := errorlog.MultiSink{errorlog.NewFileSink(cfg.ErrorLog.Path)}
	if cfg.ErrorLog.RedisAddr == "" {
		return sinks, nil
	}

	m.redis = redis.NewClient(&redis.Options{Addr: cfg.ErrorLog.RedisAddr})
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.ErrorLog.RedisAddr, err)
	}
	return append(sinks, errorlog.NewRedisSink(m.redis, cfg.ErrorLog.RedisKey)), nil
}

func (m *Main) serveMetrics(addr string, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	m.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	srv := m.metrics
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return nil
}

func wantsHelp(args []string) bool {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" {
			return true
		}
	}
	return false
}
