package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/grocery-sync/pkg/config"
	"github.com/astromechza/grocery-sync/pkg/relay"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "path to a yaml config file")
	addrVar := flag.String("addr", "", "the address to listen on")
	databaseVar := flag.String("database", "", "the sqlite database rooms are kept in")
	flag.Parse()

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Relay.Addr = *addrVar
	}
	if *databaseVar != "" {
		cfg.Relay.Database = *databaseVar
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	slog.Info("Opening database", "path", cfg.Relay.Database)
	db, err := sql.Open("sqlite3", cfg.Relay.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := relay.NewServer(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunBackups(ctx, cfg.Relay.BackupInterval)
	}()

	httpServer := &http.Server{Addr: cfg.Relay.Addr, Handler: s.Router()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Relay.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	s.Shutdown()
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	if err := s.Backup(context.Background()); err != nil {
		return fmt.Errorf("failed final backup: %w", err)
	}
	return nil
}
