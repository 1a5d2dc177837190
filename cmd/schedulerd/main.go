// Package main is the entrypoint for the pulseline scheduler daemon.
//
// Cold start:
//  1. Load and validate configuration (env + dotenv + optional SSM).
//  2. Initialize the structured logger.
//  3. Load the topology document (named scheduler and queue instances).
//  4. Initialize the AWS SDK clients (SQS, CloudWatch), honoring a
//     LocalStack endpoint override.
//  5. Provision every configured queue instance concurrently; each gets a
//     guaranteed dead-letter queue and redrive policy before its adapter is
//     handed out.
//  6. Build the interruptor registry from the scheduler specs.
//  7. Start the pulse driver on the root ticker and run until SIGINT or
//     SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"pulseline/internal/config"
	"pulseline/internal/external"
	"pulseline/internal/jobs"
	"pulseline/internal/queue"
	"pulseline/internal/scheduler"
	"pulseline/internal/types"
)

// provisionConcurrency bounds how many queue instances are provisioned in
// parallel during startup.
const provisionConcurrency = 4

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info/Warn/Error directly, but With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	// For local development SSM resolution is bypassed; otherwise secrets
	// referenced via _SSM_PARAM pointers resolve through Parameter Store.
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	slogger := newLogger(cfg.LogLevel)
	logger := &slogAdapter{logger: slogger}

	slogger.Info("pulseline scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"root", cfg.Scheduler.Root,
		"pulse_interval", cfg.Scheduler.PulseInterval.String(),
	)

	topo, err := config.LoadTopology(cfg.Scheduler.TopologyPath)
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	adapters, err := provisionQueues(ctx, topo.Queues, sqsClient, logger)
	if err != nil {
		return fmt.Errorf("provisioning queues: %w", err)
	}

	var metrics scheduler.Metrics = scheduler.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = scheduler.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	reporter := scheduler.NewLogReporter(logger, metrics)
	isolator := scheduler.NewIsolator(cfg.Scheduler.WatchdogTimeout, reporter)

	webhookClient := external.NewBaseClient(
		&http.Client{Timeout: cfg.Webhook.DefaultTimeout},
		"webhook-jobs",
		external.DefaultRetryPolicy(),
		cfg.Webhook.UserAgent,
	)

	builder := jobs.NewBuilder(adapters, webhookClient, cfg.Webhook.SigningSecret, logger)

	registry, err := scheduler.BuildTree(topo.Schedulers, scheduler.BuildDeps{
		Isolator: isolator,
		Reporter: reporter,
		Jobs:     builder,
	})
	if err != nil {
		return fmt.Errorf("building scheduler tree: %w", err)
	}

	driver := scheduler.NewDriver(cfg.Scheduler.Root, cfg.Scheduler.PulseInterval, registry, logger)
	return driver.Run(ctx)
}

// provisionQueues runs the provisioner for every declared queue instance
// with bounded concurrency. Provisioning is idempotent, so concurrent
// bootstrap of independent instances (or races with other processes) cannot
// create duplicate dead-letter queues.
func provisionQueues(
	ctx context.Context,
	specs map[string]config.QueueSpec,
	client queue.SQSAPI,
	logger types.Logger,
) (map[string]*queue.Adapter, error) {
	provisioner := queue.NewProvisioner(client, queue.NewHandlerRegistry(), logger)

	adapters := make(map[string]*queue.Adapter, len(specs))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(provisionConcurrency)

	for name, spec := range specs {
		g.Go(func() error {
			adapter, err := provisioner.Provision(gCtx, queue.ProvisionConfigFromSpec(name, spec))
			if err != nil {
				return fmt.Errorf("queue %q: %w", name, err)
			}
			mu.Lock()
			adapters[name] = adapter
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return adapters, nil
}

// newLogger builds the process-wide JSON slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
