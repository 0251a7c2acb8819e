// 4Charm - concurrent imageboard media fetcher
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/RazorBackRoar/4Charm/internal/config"
	"github.com/RazorBackRoar/4Charm/internal/engine"
	"github.com/RazorBackRoar/4Charm/internal/hooks"
	"github.com/RazorBackRoar/4Charm/internal/metrics"
	"github.com/RazorBackRoar/4Charm/internal/version"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitParseError   = 2
	ExitInterrupted  = 8
)

// CLIConfig holds CLI configuration
type CLIConfig struct {
	OutputDir   string
	Workers     int
	Quiet       bool
	Verbose     bool
	ShowVersion bool
	ShowHelp    bool
	ConfigFile  string
	InputFile   string
	OnComplete  string
	OnError     string
	WebhookURL  string
	MetricsAddr string
}

func main() {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Println(version.Full())
		os.Exit(ExitSuccess)
	}
	if cliCfg.ShowHelp {
		printUsage()
		os.Exit(ExitSuccess)
	}

	urls, err := collectURLs(cliCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitParseError)
	}
	if len(urls) == 0 {
		printUsage()
		os.Exit(ExitParseError)
	}

	os.Exit(run(cliCfg, urls))
}

func parseFlags() CLIConfig {
	cfg := CLIConfig{}

	flag.StringVar(&cfg.OutputDir, "P", "", "Output directory (default: current directory)")
	flag.StringVar(&cfg.OutputDir, "output-dir", "", "Output directory (default: current directory)")
	flag.IntVar(&cfg.Workers, "n", 0, "Number of parallel downloads (default: from config)")
	flag.IntVar(&cfg.Workers, "workers", 0, "Number of parallel downloads (default: from config)")
	flag.BoolVar(&cfg.Quiet, "q", false, "Quiet mode (errors only)")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "Quiet mode (errors only)")
	flag.BoolVar(&cfg.Verbose, "v", false, "Verbose output")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Verbose output")
	flag.BoolVar(&cfg.ShowVersion, "V", false, "Show version")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Use custom config file")
	flag.StringVar(&cfg.InputFile, "i", "", "Read URLs from file (one per line)")
	flag.StringVar(&cfg.InputFile, "input-file", "", "Read URLs from file (one per line)")
	flag.StringVar(&cfg.OnComplete, "on-complete", "", "Command to run when the batch finishes")
	flag.StringVar(&cfg.OnError, "on-error", "", "Command to run for each file that fails terminally")
	flag.StringVar(&cfg.WebhookURL, "webhook", "", "Webhook URL for batch notifications")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	flag.Usage = printUsage
	flag.Parse()

	return cfg
}

// collectURLs merges positional URLs with the input file, if any.
func collectURLs(cliCfg CLIConfig) ([]string, error) {
	urls := append([]string(nil), flag.Args()...)

	if cliCfg.InputFile != "" {
		f, err := os.Open(cliCfg.InputFile)
		if err != nil {
			return nil, fmt.Errorf("opening input file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
	}

	return urls, nil
}

func run(cliCfg CLIConfig, urls []string) int {
	cfg, err := loadConfig(cliCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitParseError
	}

	logLevel := slog.LevelInfo
	if cliCfg.Quiet {
		logLevel = slog.LevelError
	} else if cliCfg.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	root := cliCfg.OutputDir
	if root == "" {
		root = cfg.Output.Directory
	}
	if root == "" {
		root = "."
	}

	hookMgr := hooks.NewManager()
	if cliCfg.OnComplete != "" {
		hookMgr.AddCommand(cliCfg.OnComplete)
	}
	if cliCfg.OnError != "" {
		hookMgr.AddCommand(cliCfg.OnError, hooks.EventFileError)
	}
	if cliCfg.WebhookURL != "" {
		hookMgr.AddWebhook(cliCfg.WebhookURL)
	}

	var mtr *metrics.Metrics
	if cliCfg.MetricsAddr != "" {
		mtr = metrics.New()
		srv := metrics.NewServer(cliCfg.MetricsAddr, mtr)
		srv.Start()
		defer srv.Stop()
		log.Debug("metrics server listening", "addr", cliCfg.MetricsAddr)
	}

	eng := engine.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First interrupt cancels gracefully, a second one exits hard
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, finishing in-flight transfers...")
		eng.Cancel()
		<-sigChan
		fmt.Fprintln(os.Stderr, "Forced exit")
		os.Exit(ExitInterrupted)
	}()

	events, err := eng.StartBatch(ctx, urls, root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	if err := hookMgr.Execute(context.Background(), &hooks.Payload{
		Event:     hooks.EventBatchStart,
		Timestamp: time.Now(),
	}); err != nil {
		log.Warn("hook execution", "error", err)
	}

	done := renderEvents(eng, events, mtr, hookMgr, log, cliCfg.Quiet)

	payload := &hooks.Payload{
		Event:        hooks.EventBatchComplete,
		Downloaded:   done.Stats.Downloaded,
		Failed:       done.Stats.Failed,
		Skipped:      done.Stats.Skipped,
		Duplicates:   done.Stats.Duplicates,
		TotalBytes:   done.Stats.TotalBytes,
		AvgSpeedMBps: avgSpeed(done.Stats.TotalBytes, done.Elapsed),
		Timestamp:    time.Now(),
		Duration:     done.Elapsed.Seconds(),
	}
	if done.Cancelled {
		payload.Event = hooks.EventBatchCancel
	}
	if err := hookMgr.Execute(context.Background(), payload); err != nil {
		log.Warn("hook execution", "error", err)
	}

	switch {
	case done.Cancelled:
		return ExitInterrupted
	case done.Stats.Failed > 0 && done.Stats.Downloaded == 0 && done.Stats.Skipped == 0 && done.Stats.Duplicates == 0:
		return ExitGeneralError
	default:
		return ExitSuccess
	}
}

// renderEvents drains the event stream to the terminal, firing per-file
// hooks and mirroring stats into the metrics gauges, and returns the final
// summary.
func renderEvents(eng *engine.Engine, events <-chan engine.Event, mtr *metrics.Metrics, hookMgr *hooks.Manager, log *slog.Logger, quiet bool) engine.DoneEvent {
	var done engine.DoneEvent

	for ev := range events {
		switch e := ev.(type) {
		case engine.DiscoveryEvent:
			if !quiet {
				fmt.Printf("[%d/%d] %s: %d files\n", e.Index, e.Total, e.Label, e.Files)
			}
		case engine.ProgressEvent:
			if !quiet {
				fmt.Printf("  (%d/%d) %s  %.2f MB/s avg\n", e.Completed, e.Total, e.Filename, e.AvgSpeedMBps)
			}
			fileEvent := hooks.EventFileComplete
			if !e.Succeeded {
				fileEvent = hooks.EventFileError
			}
			if err := hookMgr.Execute(context.Background(), &hooks.Payload{
				Event:     fileEvent,
				Filename:  e.Filename,
				Timestamp: time.Now(),
			}); err != nil {
				log.Warn("hook execution", "error", err)
			}
			if mtr != nil {
				stats := eng.Stats()
				mtr.SetDiscovered(int64(stats.Total))
				mtr.SetDownloaded(int64(stats.Downloaded))
				mtr.SetFailed(int64(stats.Failed))
				mtr.SetSkipped(int64(stats.Skipped))
				mtr.SetDuplicates(int64(stats.Duplicates))
				mtr.SetBytes(stats.TotalBytes)
				mtr.SetSpeedMBps(e.AvgSpeedMBps)
				mtr.SetActiveTransfers(int64(eng.Active()))
			}
		case engine.LogEvent:
			if e.Level == "error" || e.Level == "warn" || !quiet {
				fmt.Fprintf(os.Stderr, "%s: %s\n", e.Level, e.Message)
			}
		case engine.DoneEvent:
			done = e
			printSummary(e, quiet)
		}
	}
	return done
}

func printSummary(done engine.DoneEvent, quiet bool) {
	if quiet {
		return
	}
	s := done.Stats
	fmt.Printf("\nDone in %s: %d downloaded (%s), %d skipped, %d duplicates, %d failed, %.2f MB/s avg\n",
		done.Elapsed.Round(time.Millisecond),
		s.Downloaded,
		humanize.IBytes(uint64(s.TotalBytes)),
		s.Skipped,
		s.Duplicates,
		s.Failed,
		avgSpeed(s.TotalBytes, done.Elapsed))
	if done.Cancelled {
		fmt.Println("Batch was cancelled before finishing.")
	}
}

func avgSpeed(totalBytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(totalBytes) / (1024 * 1024) / elapsed.Seconds()
}

func loadConfig(cliCfg CLIConfig) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cliCfg.ConfigFile != "" {
		cfg = config.Default()
		err = cfg.LoadFile(cliCfg.ConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if cliCfg.Workers > 0 {
		cfg.General.Workers = cliCfg.Workers
	}
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s - concurrent imageboard media fetcher

Usage:
  4charm [options] URL [URL...]
  4charm [options] -i urls.txt

URLs may point at a thread, a board catalog, or a board root:
  https://boards.4chan.org/wg/thread/1234567
  https://boards.4chan.org/wg/catalog
  https://boards.4chan.org/wg/

Options:
  -P, --output-dir DIR   Output directory (default: current directory)
  -n, --workers N        Number of parallel downloads
  -i, --input-file FILE  Read URLs from file (one per line, # comments)
      --config FILE      Use custom config file
      --on-complete CMD  Command to run when the batch finishes
      --on-error CMD     Command to run for each file that fails terminally
      --webhook URL      Webhook URL for batch notifications
      --metrics-addr A   Serve Prometheus metrics on this address
  -q, --quiet            Quiet mode (errors only)
  -v, --verbose          Verbose output
  -V, --version          Show version
  -h, --help             Show help

Files are grouped into one folder per thread, named after the thread title;
.webm files go into a WEBM subfolder. Press Ctrl-C once for a graceful stop,
twice to force exit.
`, version.Short())
}
