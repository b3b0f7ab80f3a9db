package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/astromechza/grocery-sync/pkg/config"
	"github.com/astromechza/grocery-sync/pkg/engine"
	"github.com/astromechza/grocery-sync/pkg/session"
	"github.com/astromechza/grocery-sync/pkg/store"
	"github.com/astromechza/grocery-sync/pkg/store/redisstore"
	"github.com/astromechza/grocery-sync/pkg/store/sqlitestore"
	"github.com/astromechza/grocery-sync/pkg/transport"
)

const version = "0.1.0"

const usage = `grocery - a local-first grocery list.

Usage:
    grocery [--config=<path>] ls
    grocery [--config=<path>] add [--count=<count>] [--unit=<unit>] [--category=<id>] <name>...
    grocery [--config=<path>] check <id>
    grocery [--config=<path>] rm <id>
    grocery [--config=<path>] category add <name>...
    grocery [--config=<path>] category rm <id>
    grocery [--config=<path>] category toggle <id>
    grocery [--config=<path>] import <file>
    grocery [--config=<path>] export [<file>]
    grocery [--config=<path>] sync init <room> <url>
    grocery [--config=<path>] sync resume
    grocery [--config=<path>] sync status
    grocery [--config=<path>] watch
    grocery [--config=<path>] theme (auto|light|dark)
    grocery [--config=<path>] history <id> <output>
    grocery -h | --help
    grocery --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    YAML config file [default: grocery.yaml].
    --count=<count>    Quantity to buy [default: 1].
    --unit=<unit>      Unit of the quantity.
    --category=<id>    Category to file a new item under.
`

func main() {
	if err := mainInner(); err != nil {
		fail(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		return err
	}
	configPath, _ := opts.String("--config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	adapter, closeAdapter, err := openAdapter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAdapter()

	a := &app{states: make(chan session.State, 16), changes: make(chan struct{}, 1), adapter: adapter}
	watching, _ := opts.Bool("watch")
	a.eng = engine.New(adapter, engine.Options{
		Listener: engine.ListenerFuncs{
			OnDocumentChanged:  a.documentChanged,
			OnSyncStateChanged: a.syncStateChanged,
		},
		Dialer:     &transport.Dialer{Logger: logger},
		Logger:     logger,
		AutoResume: watching && cfg.Sync.AutoResume,
	})

	ctx := context.Background()
	if err := a.eng.Open(ctx); err != nil {
		return err
	}
	defer a.eng.Close()

	return a.dispatch(ctx, opts)
}

func openAdapter(cfg config.Config, logger *slog.Logger) (store.Adapter, func(), error) {
	switch cfg.Store.Driver {
	case "redis":
		s, err := redisstore.New(cfg.Store.RedisURL, cfg.Store.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := sqlitestore.Open(cfg.Store.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}

func (a *app) dispatch(ctx context.Context, opts docopt.Opts) error {
	is := func(key string) bool {
		v, _ := opts.Bool(key)
		return v
	}
	str := func(key string) string {
		v, _ := opts.String(key)
		return v
	}
	words := func(key string) []string {
		v, _ := opts[key].([]string)
		return v
	}

	switch {
	case is("category") && is("add"):
		return a.addCategory(ctx, words("<name>"))
	case is("category") && is("rm"):
		return a.removeCategory(ctx, str("<id>"))
	case is("category") && is("toggle"):
		return a.toggleCategory(ctx, str("<id>"))
	case is("ls"):
		return a.list()
	case is("add"):
		count, err := opts.Float64("--count")
		if err != nil {
			return fmt.Errorf("--count: %w", err)
		}
		return a.addItem(ctx, words("<name>"), count, str("--unit"), str("--category"))
	case is("check"):
		return a.checkItem(ctx, str("<id>"))
	case is("rm"):
		return a.removeItem(ctx, str("<id>"))
	case is("import"):
		return a.importFile(ctx, str("<file>"))
	case is("export"):
		return a.exportFile(str("<file>"))
	case is("sync") && is("init"):
		return a.syncInit(ctx, str("<room>"), str("<url>"))
	case is("sync") && is("resume"):
		return a.syncResume(ctx)
	case is("sync") && is("status"):
		return a.syncStatus()
	case is("watch"):
		return a.watch(ctx)
	case is("theme"):
		for _, t := range []string{"auto", "light", "dark"} {
			if is(t) {
				return a.setTheme(ctx, t)
			}
		}
	case is("history"):
		return a.history(str("<id>"), str("<output>"))
	}
	return fmt.Errorf("unknown command")
}
