package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/grocery-sync/pkg/store/sqlitestore"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the database to read")
	}
	if _, err := os.Stat(flag.Arg(0)); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s, err := sqlitestore.Open(flag.Arg(0), slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()
	<-s.InitialSyncComplete()

	doc, err := s.Doc()
	if err != nil {
		return fmt.Errorf("failed to load doc: %w", err)
	}
	am := doc.Automerge()
	slog.Info("loaded heads", "heads", am.Heads())

	changes, err := am.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "message", change.Message(), "dep", change.Dependencies())
	}

	st, err := doc.Read()
	if err != nil {
		return fmt.Errorf("failed to read doc: %w", err)
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
