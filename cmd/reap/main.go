package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/logging"
	"github.com/tweag/objectsync/pkg/objectstore"
	"github.com/tweag/objectsync/pkg/reap"
)

func Run(ctx context.Context, args []string) int {
	var bucket, region, endpoint, cacheDir string
	var purgeDays int
	var cutoffMargin time.Duration
	var batchSize, poolSize int
	var deleteSleep time.Duration
	var quiet, verbose bool

	flagSet := flag.NewFlagSet("reap", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Curate a bucket's object versions and rebuild its known-blobs snapshot\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: reap [OPTIONS]\n")
		flagSet.PrintDefaults()
		examples := []string{
			"reap --bucket my-bucket",
			"reap --bucket my-bucket --purge-days 60",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
	}
	flagSet.StringVar(&bucket, "bucket", "", "Remote bucket name (required)")
	flagSet.StringVar(&region, "region", "", "Remote store region")
	flagSet.StringVar(&endpoint, "endpoint", "", "Remote store endpoint (for S3-compatible stores)")
	flagSet.StringVar(&cacheDir, "cache-dir", ".objectsync", "Local cache directory for the known-blobs mirror")
	flagSet.IntVar(&purgeDays, "purge-days", 30, "Days an unknown-digest version survives before becoming eligible for deletion")
	flagSet.DurationVar(&cutoffMargin, "cutoff-margin", 7*24*time.Hour, "How far before run start the live/old cutoff is set, to tolerate in-flight uploads and long-lived references")
	flagSet.IntVar(&batchSize, "batch-size", api.ReaperBatchSize, "Deletions buffered per batch")
	flagSet.IntVar(&poolSize, "pool-size", api.ReaperPoolSize, "Concurrent deletion workers")
	flagSet.DurationVar(&deleteSleep, "delete-sleep", api.ReaperDeleteSleep, "Rate-limit sleep before each batch delete")
	flagSet.BoolVar(&quiet, "quiet", false, "Suppress informational logging")
	flagSet.BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	if err := flagSet.Parse(args[1:]); err != nil {
		return 1
	}
	if bucket == "" {
		fmt.Fprintln(os.Stderr, "Error: --bucket is required")
		flagSet.Usage()
		return 1
	}

	level := api.Normal
	if quiet {
		level = api.Quiet
	}
	if verbose {
		level = api.Verbose
	}
	logger := logging.New(level)

	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	if endpoint != "" {
		optFns = append(optFns, awsconfig.WithBaseEndpoint(endpoint))
	}

	store, err := objectstore.NewS3Store(ctx, bucket, optFns...)
	if err != nil {
		log.Fatalf("Failed to set up object store client: %v", err)
	}

	opts := reap.DefaultOptions()
	opts.CutTime = time.Now().Add(-cutoffMargin)
	opts.PurgeTime = time.Duration(purgeDays) * 24 * time.Hour
	opts.BatchSize = batchSize
	opts.PoolSize = poolSize
	opts.DeleteSleep = deleteSleep

	r := reap.New(store, logger, opts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warnf("received shutdown signal, waiting for in-flight batches to finish")
		cancel()
	}()

	counters, err := r.Run(runCtx, filepath.Join(cacheDir, "objectlist.json"))
	if err != nil {
		log.Fatalf("Reap run failed: %v", err)
	}

	logger.Infof("live=%d deleted_old=%d deleted_duplicate=%d failed_batches=%d",
		counters.Live, counters.DeletedOld, counters.DeletedDuplicate, counters.FailedBatches)

	if counters.FailedBatches > 0 {
		return 1
	}
	return 0
}

func main() {
	os.Exit(Run(context.Background(), os.Args))
}
