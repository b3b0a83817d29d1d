// Command surge applies a patch to every document of a backend with bounded
// concurrency, paced writes and a run deadline.
//
// Usage:
//
//	surge -backend redis -addr localhost:6379 -namespace room: -match pixel- -patch patch.yaml
//
// The exit status is 0 when every document succeeded, 1 when any document
// failed or the source could not be enumerated, and 2 when the run was cut
// short by its deadline or an interrupt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zoobzio/capitan"

	"github.com/zoobzio/surge"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile    = flag.String("config", "", "Path to run config YAML or JSON file")
		backendName   = flag.String("backend", "file", "Backend: file, redis, postgres, nats, etcd, consul, zookeeper, firestore, kubernetes")
		addr          = flag.String("addr", ".", "Backend address: directory, host:port, DSN or kubeconfig path")
		namespace     = flag.String("namespace", "", "Key prefix, table, collection, znode root or Kubernetes namespace")
		match         = flag.String("match", "", "Only process documents whose ID starts with this prefix")
		project       = flag.String("project", "", "Google Cloud project (firestore)")
		bucket        = flag.String("bucket", "surge", "JetStream KV bucket (nats)")
		patchFile     = flag.String("patch", "", "Path to YAML or JSON patch file (required)")
		shuffle       = flag.Bool("shuffle", false, "Write patch keys in a random order per document")
		pace          = flag.Duration("pace", 0, "Pause between writes to one document")
		concurrency   = flag.Int("concurrency", 0, "Maximum documents in flight (overrides config)")
		flushInterval = flag.Duration("flush-interval", -1, "Maximum buffering before a flush (overrides config)")
		deadline      = flag.Duration("deadline", -1, "Bound on the whole run; 0 for none (overrides config)")
		retries       = flag.Int("retry", 0, "Retry each failed flush up to this many times with backoff")
		dryRun        = flag.Bool("dry-run", false, "Read from the backend but keep writes in memory")
		verbose       = flag.Bool("verbose", false, "Enable debug logging to stderr")
	)
	flag.Parse()

	if *patchFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: surge -backend <name> -addr <addr> -patch <file>")
		flag.PrintDefaults()
		return 1
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observe(logger)
	defer capitan.Shutdown()

	cfg := surge.Config{Concurrency: 8}
	if *configFile != "" {
		loaded, err := surge.LoadConfig(*configFile)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			return 1
		}
		cfg = loaded
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *flushInterval >= 0 {
		cfg.FlushInterval = *flushInterval
	}
	if *deadline >= 0 {
		cfg.Deadline = *deadline
	}

	p, err := loadPatch(*patchFile)
	if err != nil {
		logger.Error("failed to load patch", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := open(ctx, target{
		backend:   *backendName,
		addr:      *addr,
		namespace: *namespace,
		match:     *match,
		project:   *project,
		bucket:    *bucket,
	})
	if err != nil {
		logger.Error("failed to open backend", "backend", *backendName, "error", err)
		return 1
	}
	defer b.close()

	store := b.store
	if *dryRun {
		store = surge.NewMemoryStore()
	}

	var opts []surge.Option
	if *retries > 0 {
		opts = append(opts, surge.WithBackoff(*retries+1, 100*time.Millisecond))
	}

	pipeline := surge.New(store, opts...).ErrorHistorySize(10)
	if *match != "" {
		pipeline.Match(surge.HasPrefix(*match))
	}

	result, err := pipeline.Run(ctx, b.source, p.mutate(*shuffle, *pace), cfg)
	if err != nil {
		logger.Error("invalid run", "error", err)
		return 1
	}

	report(os.Stdout, result)

	switch {
	case len(result.Failed()) > 0:
		return 1
	case result.Err != nil && !errors.Is(result.Err, surge.ErrDeadlineExceeded) && !errors.Is(result.Err, surge.ErrAborted):
		return 1
	case result.Err != nil:
		return 2
	default:
		return 0
	}
}
