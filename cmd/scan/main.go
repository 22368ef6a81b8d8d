package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dscybers/phishshield/internal/app"
	"github.com/dscybers/phishshield/internal/config"
	"github.com/dscybers/phishshield/internal/entity"
)

func usage() {
	fmt.Fprintln(os.Stderr, "PhishShield - URL scanner")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage: scan [flags] <url> [url...]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, "  scan https://example.com/login")
	fmt.Fprintln(os.Stderr, "  scan -sync-feeds -verbose http://paypa1-secure.tk/verify https://bit.ly/x")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Layers and sources are configured from the environment, as for the API.")
	fmt.Fprintln(os.Stderr, "Verdicts are printed as JSON, one per line; nothing is stored or published.")
	fmt.Fprintln(os.Stderr, "Exit status is 3 when any URL is judged malicious.")
	fmt.Fprintln(os.Stderr, "")
	flag.PrintDefaults()
}

func main() {
	syncFeeds := flag.Bool("sync-feeds", false, "download threat feeds before scanning")
	pretty := flag.Bool("pretty", false, "indent JSON output")
	verbose := flag.Bool("verbose", false, "log pipeline progress to stderr")
	flag.Usage = usage
	flag.Parse()

	urls := flag.Args()
	if len(urls) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout stays machine readable
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	os.Exit(run(cfg, logger, urls, *syncFeeds, *pretty))
}

// run scans urls and returns the exit status: 0 clean, 1 error, 3 malicious
func run(cfg *config.Config, logger *slog.Logger, urls []string, syncFeeds, pretty bool) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		return 1
	}
	defer pipeline.Close()

	if syncFeeds {
		syncCtx, cancel := context.WithTimeout(ctx, time.Minute)
		for _, res := range pipeline.Feeds.SyncAll(syncCtx) {
			if !res.Success {
				fmt.Fprintf(os.Stderr, "Warning: feed %s failed to sync: %v\n", res.Source, res.Error)
			}
		}
		cancel()
	}

	var verdicts []*entity.Verdict
	if len(urls) == 1 {
		v, err := pipeline.Analysis.Analyze(ctx, entity.AnalysisRequest{URL: urls[0]})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		verdicts = []*entity.Verdict{v}
	} else {
		verdicts, err = pipeline.Analysis.RunBatch(ctx, urls)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}

	exitCode := 0
	for i, v := range verdicts {
		if v == nil {
			fmt.Fprintf(os.Stderr, "Error: analysis of %s failed\n", urls[i])
			exitCode = 1
			continue
		}
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			return 1
		}
		if v.IsMalicious && exitCode == 0 {
			exitCode = 3
		}
	}

	return exitCode
}
