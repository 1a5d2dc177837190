// Command provision creates the physical queues declared in a topology
// document ahead of time. The scheduler daemon provisions the same queues on
// startup, so running this tool is optional, but doing it once during
// environment setup keeps the daemon's cold start fast and surfaces
// misconfigured queue declarations before a deploy.
//
// Usage:
//
//	provision -topology topology.yaml [-region us-east-1] [-endpoint http://localhost:4566]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"pulseline/internal/config"
	"pulseline/internal/queue"
	"pulseline/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		topologyPath = flag.String("topology", "", "path to the topology document (required)")
		region       = flag.String("region", "us-east-1", "AWS region")
		endpoint     = flag.String("endpoint", "", "optional endpoint override (LocalStack)")
		timeout      = flag.Duration("timeout", 5*time.Minute, "overall provisioning deadline")
	)
	flag.Parse()

	if *topologyPath == "" {
		flag.Usage()
		return fmt.Errorf("missing required -topology flag")
	}

	topo, err := config.LoadTopology(*topologyPath)
	if err != nil {
		return err
	}
	if len(topo.Queues) == 0 {
		fmt.Fprintln(os.Stderr, "topology declares no queue instances, nothing to do")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if *endpoint != "" {
			o.BaseEndpoint = aws.String(*endpoint)
		}
	})

	logger := &slogAdapter{logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}
	provisioner := queue.NewProvisioner(client, queue.NewHandlerRegistry(), logger)

	names := make([]string, 0, len(topo.Queues))
	for name := range topo.Queues {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(os.Stderr, "\nprovisioning queue instance %q\n", name)

		adapter, err := provisioner.Provision(ctx, queue.ProvisionConfigFromSpec(name, topo.Queues[name]))
		if err != nil {
			return fmt.Errorf("queue %q: %w", name, err)
		}

		urls := adapter.BandURLs()
		for _, band := range queue.Bands {
			fmt.Fprintf(os.Stderr, "  %-8s %s\n", band, urls[band])
		}
	}

	fmt.Fprintf(os.Stderr, "\nprovisioned %d queue instance(s)\n", len(names))
	return nil
}

type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}
