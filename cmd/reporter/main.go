// Command reporter runs the scheduled survey-report pipeline. It is built to
// be driven from cron: one invocation equals one run, and the exit code tells
// the scheduler what happened.
//
// Usage:
//
//	reporter [--config config.yaml] [--verbose] run [--dry-run]
//	reporter [--config config.yaml] status
//	reporter [--config config.yaml] validate-config
//
// Exit codes: 0 success, 1 bad arguments, 2 run failed, 3 invalid config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"surveypulse/internal/common"
	"surveypulse/internal/config"
	"surveypulse/internal/health"
	"surveypulse/internal/infrastructure"
	"surveypulse/internal/pipeline"
)

const (
	exitOK        = 0
	exitBadArgs   = 1
	exitRunFailed = 2
	exitBadConfig = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("reporter", flag.ContinueOnError)
	configPath := global.String("config", "config.yaml", "path to the YAML configuration file")
	verbose := global.Bool("verbose", false, "log at debug level")
	global.Usage = func() { usage(global) }

	if err := global.Parse(args); err != nil {
		return exitBadArgs
	}
	if global.NArg() == 0 {
		usage(global)
		return exitBadArgs
	}

	command := global.Arg(0)
	rest := global.Args()[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitBadConfig
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	switch command {
	case "run":
		return runPipeline(cfg, rest)
	case "status":
		return showStatus(cfg)
	case "validate-config":
		fmt.Println("configuration is valid")
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		usage(global)
		return exitBadArgs
	}
}

func runPipeline(cfg *config.Config, args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	dryRun := flags.Bool("dry-run", false, "log actions without writing artifacts or moving files")
	if err := flags.Parse(args); err != nil {
		return exitBadArgs
	}

	logger, closeLogger, err := infrastructure.NewLogger(cfg.Logging, cfg.LogFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return exitRunFailed
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx := common.NewRunContext(*dryRun, logger)
	ctx = infrastructure.WithRunID(ctx, runCtx.RunID)

	runner := pipeline.NewRunner(cfg, logger)
	rep, err := runner.Run(ctx, runCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return exitRunFailed
	}

	if !rep.OK {
		fmt.Fprintf(os.Stderr, "run finished with failures: %s\n", rep.Message)
		return exitRunFailed
	}

	fmt.Printf("run %s completed: %d files processed, %d records\n",
		rep.Run.RunID, rep.FilesSucceeded(), rep.RecordsProcessed())
	return exitOK
}

func showStatus(cfg *config.Config) int {
	recorder := health.NewRecorder(cfg.Dirs.Output, nil)

	status, err := recorder.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("no run recorded yet")
			return exitRunFailed
		}
		fmt.Fprintf(os.Stderr, "failed to read status: %v\n", err)
		return exitRunFailed
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render status: %v\n", err)
		return exitRunFailed
	}
	fmt.Println(string(out))

	if !status.OK {
		return exitRunFailed
	}
	return exitOK
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `reporter - scheduled survey report pipeline

Usage:
  reporter [flags] run [--dry-run]   process inbox files and write reports
  reporter [flags] status            print the outcome of the last run
  reporter [flags] validate-config   check the configuration and exit

Flags:
`)
	fs.PrintDefaults()
}
