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

	"github.com/fatih/color"

	cfgPkg "github.com/xhad/ragline/pkg/config"
)

const usage = `Usage: ragline [-config path] [-env path] [-v] <command> [flags]

Commands:
  ingest    chunk, embed and store a corpus file or crawled site
  query     answer a question from the stored corpus (interactive without a question)
  inspect   dump stored records and run smoke queries
  serve     start the WebSocket query server
`

type app struct {
	config *cfgPkg.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	global := flag.NewFlagSet("ragline", flag.ContinueOnError)
	global.Usage = func() {
		fmt.Fprint(global.Output(), usage)
		global.PrintDefaults()
	}

	configPath := global.String("config", "", "Path to config file")
	envPath := global.String("env", ".env", "Path to .env file")
	verbose := global.Bool("v", false, "Enable debug logging")
	if err := global.Parse(args); err != nil {
		return err
	}

	if global.NArg() == 0 {
		global.Usage()
		return flag.ErrHelp
	}

	if err := cfgPkg.LoadDotEnv(*envPath); err != nil {
		return err
	}

	config, err := cfgPkg.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &app{config: config, logger: logger}

	cmdArgs := global.Args()[1:]
	switch cmd := global.Arg(0); cmd {
	case "ingest":
		return a.ingest(ctx, cmdArgs)
	case "query":
		return a.query(ctx, cmdArgs)
	case "inspect":
		return a.inspect(ctx, cmdArgs)
	case "serve":
		return a.serve(ctx, cmdArgs)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// validate is called after command flags have been merged into the config.
func (a *app) validate() error {
	if errs := a.config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("  %s", e.Error())
		}
		return fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}
	return nil
}
