package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/dig"

	"github.com/tuannm99/novaheap/internal/config"
	"github.com/tuannm99/novaheap/internal/engine"
	"github.com/tuannm99/novaheap/internal/storage"
)

const usage = `usage: heapctl [-config file] [-raw] <command> [args]

commands:
  tables                 list persistent tables
  seed <table> <n>       create <table> if missing and insert n sample rows
  scan <table> [limit]   print rows in page order
  inspect <table>        show header, page list and free list
  drop <table>           delete a table
`

type options struct {
	configPath string
	raw        bool
	args       []string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.configPath, "config", "", "yaml config file (NOVAHEAP_* env vars override it)")
	flag.BoolVar(&opts.raw, "raw", false, "dump raw header structs")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	opts.args = flag.Args()

	if len(opts.args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func run(opts options) error {
	c := dig.New()
	constructors := []any{
		func() options { return opts },
		loadConfig,
		openEngine,
		newCommands,
	}
	for _, fn := range constructors {
		if err := c.Provide(fn); err != nil {
			return err
		}
	}

	return c.Invoke(func(e *engine.Engine, cmds *commands) error {
		// An interrupt stops the running command between rows; the engine is
		// closed here either way so dirty pages reach disk.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := cmds.dispatch(ctx, opts.args)
		if errors.Is(err, context.Canceled) {
			slog.Info("heapctl: interrupted, flushing")
		}
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	})
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

func openEngine(cfg *config.Config) (*engine.Engine, error) {
	if err := os.MkdirAll(cfg.Storage.Workdir, storage.FileMode0755); err != nil {
		log.Printf("create workdir %s: %v", cfg.Storage.Workdir, err)
		return nil, err
	}
	return engine.Open(cfg)
}
