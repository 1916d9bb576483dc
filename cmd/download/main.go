package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/blobcache"
	"github.com/tweag/objectsync/pkg/blobtransfer"
	"github.com/tweag/objectsync/pkg/downloadplan"
	"github.com/tweag/objectsync/pkg/logging"
	"github.com/tweag/objectsync/pkg/objectstore"
)

func Run(ctx context.Context, args []string) int {
	var bucket, region, endpoint, manifestPath, cacheDir string
	var jobs int
	var quiet, verbose bool

	flagSet := flag.NewFlagSet("download", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Materialize a manifest's blobs into a directory tree\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: download [OPTIONS] DEST\n")
		flagSet.PrintDefaults()
		examples := []string{
			"download --bucket my-bucket --manifest upload.manifest ./build-output",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
	}
	flagSet.StringVar(&bucket, "bucket", "", "Remote bucket name (required)")
	flagSet.StringVar(&region, "region", "", "Remote store region")
	flagSet.StringVar(&endpoint, "endpoint", "", "Remote store endpoint (for S3-compatible stores)")
	flagSet.StringVar(&manifestPath, "manifest", "", "Path to the manifest to materialize (required)")
	flagSet.StringVar(&cacheDir, "cache-dir", ".objectsync/blobs", "Local content-addressed blob cache directory")
	flagSet.IntVar(&jobs, "jobs", api.DefaultJobs, "Download worker-pool size")
	flagSet.BoolVar(&quiet, "quiet", false, "Suppress informational logging")
	flagSet.BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	if err := flagSet.Parse(args[1:]); err != nil {
		return 1
	}
	if bucket == "" || manifestPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --bucket and --manifest are required")
		flagSet.Usage()
		return 1
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one destination directory argument is required")
		flagSet.Usage()
		return 1
	}
	dest := flagSet.Arg(0)

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

	transfer := blobtransfer.New(store, blobtransfer.DefaultOptions())
	cache := blobcache.New(cacheDir)

	opts := downloadplan.DefaultOptions()
	opts.Jobs = jobs
	planner := downloadplan.New(transfer, cache, logger, opts)

	manifestFile, err := os.Open(manifestPath)
	if err != nil {
		log.Fatalf("Failed to open manifest %s: %v", manifestPath, err)
	}
	defer manifestFile.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warnf("received shutdown signal, waiting for in-flight downloads to finish")
		cancel()
	}()

	counters, err := planner.Run(runCtx, manifestFile, dest)
	if err != nil {
		log.Fatalf("Download run failed: %v", err)
	}
	if runCtx.Err() != nil {
		return 1
	}

	logger.Infof("deleted=%d kept=%d cache_hits=%d zero_byte=%d downloaded=%d",
		counters.Deleted, counters.Kept, counters.CacheHits, counters.ZeroByte, counters.Downloaded)

	return 0
}

func main() {
	os.Exit(Run(context.Background(), os.Args))
}
