package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/blobtransfer"
	"github.com/tweag/objectsync/pkg/logging"
	"github.com/tweag/objectsync/pkg/objectstore"
	"github.com/tweag/objectsync/pkg/uploadplan"
)

func Run(ctx context.Context, args []string) int {
	var bucket, region, endpoint, manifestPath, cacheDir string
	var jobs int
	var dryRun, gzipManifest, duplicateReport, quiet, verbose bool

	flagSet := flag.NewFlagSet("upload", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Upload a directory tree to a content-addressed object store\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: upload [OPTIONS] DIR\n")
		flagSet.PrintDefaults()
		examples := []string{
			"upload --bucket my-bucket --manifest out.manifest.gz ./build-output",
			"upload --bucket my-bucket --manifest - ./build-output",
			"upload --bucket my-bucket --dry-run ./build-output",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
	}
	flagSet.StringVar(&bucket, "bucket", "", "Remote bucket name (required)")
	flagSet.StringVar(&region, "region", "", "Remote store region")
	flagSet.StringVar(&endpoint, "endpoint", "", "Remote store endpoint (for S3-compatible stores)")
	flagSet.StringVar(&manifestPath, "manifest", "manifest.gz", "Path to write the resulting manifest (\"-\" for stdout)")
	flagSet.StringVar(&cacheDir, "cache-dir", ".objectsync", "Local cache directory for the known-blobs mirror")
	flagSet.IntVar(&jobs, "jobs", api.DefaultJobs, "Upload worker-pool size")
	flagSet.BoolVar(&dryRun, "dry-run", false, "Compute the plan without uploading or writing the manifest")
	flagSet.BoolVar(&gzipManifest, "gzip-manifest", false, "Gzip-wrap the written manifest (default: auto — gzip to a file, plain to stdout)")
	flagSet.BoolVar(&duplicateReport, "duplicate-report", false, "Report bytes wasted by duplicate-digest files")
	flagSet.BoolVar(&quiet, "quiet", false, "Suppress informational logging")
	flagSet.BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	if err := flagSet.Parse(args[1:]); err != nil {
		return 1
	}

	gzipManifestSet := false
	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == "gzip-manifest" {
			gzipManifestSet = true
		}
	})
	if bucket == "" {
		fmt.Fprintln(os.Stderr, "Error: --bucket is required")
		flagSet.Usage()
		return 1
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one directory argument is required")
		flagSet.Usage()
		return 1
	}
	root := flagSet.Arg(0)

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

	opts := uploadplan.DefaultOptions()
	opts.Jobs = jobs
	opts.DryRun = dryRun
	opts.DuplicateReport = duplicateReport

	planner := uploadplan.New(transfer, store, filepath.Join(cacheDir, "objectlist.json"), logger, opts)

	toStdout := manifestPath == "-"
	if !gzipManifestSet {
		// Auto: gzip when writing to a file, plain when writing to stdout.
		gzipManifest = !toStdout
	}

	var manifestWriter io.Writer = io.Discard
	if !dryRun {
		if toStdout {
			manifestWriter = os.Stdout
		} else {
			manifestFile, err := os.Create(manifestPath)
			if err != nil {
				log.Fatalf("Failed to create manifest file %s: %v", manifestPath, err)
			}
			defer manifestFile.Close()
			manifestWriter = manifestFile
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warnf("received shutdown signal, waiting for in-flight uploads to finish")
		cancel()
	}()

	result, err := planner.Run(runCtx, root, manifestWriter, gzipManifest)
	if err != nil {
		log.Fatalf("Upload run failed: %v", err)
	}
	if runCtx.Err() != nil {
		return 1
	}

	logger.Infof("uploaded=%d refreshed=%d skipped=%d skipped_known=%d inlined=%d bytes_uploaded=%d",
		result.Counters.Uploaded, result.Counters.Refreshed, result.Counters.Skipped,
		result.Counters.SkippedKnown, result.Counters.Inlined, result.Counters.BytesUploaded)

	if duplicateReport {
		for _, group := range result.Duplicates {
			logger.Infof("duplicate %s: %d occurrences, %d bytes wasted", group.Digest, group.Occurrences, group.WastedBytes)
		}
	}

	return 0
}

func main() {
	os.Exit(Run(context.Background(), os.Args))
}
