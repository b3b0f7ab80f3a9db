package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/astromechza/grocery-sync/pkg/engine"
	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/session"
	"github.com/astromechza/grocery-sync/pkg/store"
	"github.com/astromechza/grocery-sync/pkg/store/sqlitestore"
	"github.com/astromechza/grocery-sync/pkg/viz"
)

const syncTimeout = 10 * time.Second

type app struct {
	eng     *engine.Engine
	adapter store.Adapter
	states  chan session.State
	changes chan struct{}
}

func (a *app) documentChanged(model.Snapshot) {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

func (a *app) syncStateChanged(st session.State) {
	select {
	case a.states <- st:
	default:
	}
}

func (a *app) list() error {
	snap, err := a.eng.CurrentSnapshot()
	if err != nil {
		return err
	}
	fmt.Println(renderDocument(snap.Document))
	return nil
}

func (a *app) addItem(ctx context.Context, name []string, count float64, unit, categoryID string) error {
	title := strings.Join(name, " ")
	it := model.Item{
		ID:       a.eng.NewID(),
		Name:     title,
		Quantity: model.Quantity{Count: count, Unit: unit},
		Slug:     slugify(title),
		State:    model.ItemRequired,
	}
	if r := []rune(title); len(r) > 0 {
		it.Symbol = strings.ToUpper(string(r[0]))
	}
	if categoryID != "" {
		snap, err := a.eng.CurrentSnapshot()
		if err != nil {
			return err
		}
		i := snap.CategoryIndex(categoryID)
		if i < 0 {
			return fmt.Errorf("no category %s", categoryID)
		}
		if err := a.eng.UpsertItem(ctx, it); err != nil {
			return err
		}
		c := snap.Categories[i]
		c.Items = append(c.Items, it.ID)
		if err := a.eng.UpsertCategory(ctx, c); err != nil {
			return err
		}
	} else if err := a.eng.UpsertItem(ctx, it); err != nil {
		return err
	}
	ok("added " + it.Name + " " + it.ID)
	return a.pushIfConfigured(ctx)
}

func (a *app) checkItem(ctx context.Context, id string) error {
	snap, err := a.eng.CurrentSnapshot()
	if err != nil {
		return err
	}
	it, found := snap.Items[id]
	if !found {
		return fmt.Errorf("no item %s", id)
	}
	if it.State == model.ItemStuffed {
		it.State = model.ItemRequired
	} else {
		it.State = model.ItemStuffed
	}
	if err := a.eng.UpsertItem(ctx, it); err != nil {
		return err
	}
	ok(fmt.Sprintf("%s is now %s", it.Name, it.State))
	return a.pushIfConfigured(ctx)
}

func (a *app) removeItem(ctx context.Context, id string) error {
	if err := a.eng.DeleteItem(ctx, id); err != nil {
		return err
	}
	ok("removed " + id)
	return a.pushIfConfigured(ctx)
}

func (a *app) addCategory(ctx context.Context, name []string) error {
	c := model.Category{
		ID:    a.eng.NewID(),
		Name:  strings.Join(name, " "),
		Items: []string{},
		State: model.CategoryOpen,
	}
	if err := a.eng.UpsertCategory(ctx, c); err != nil {
		return err
	}
	ok("added category " + c.Name + " " + c.ID)
	return a.pushIfConfigured(ctx)
}

func (a *app) removeCategory(ctx context.Context, id string) error {
	if err := a.eng.DeleteCategory(ctx, id); err != nil {
		return err
	}
	ok("removed category " + id)
	return a.pushIfConfigured(ctx)
}

func (a *app) toggleCategory(ctx context.Context, id string) error {
	snap, err := a.eng.CurrentSnapshot()
	if err != nil {
		return err
	}
	i := snap.CategoryIndex(id)
	if i < 0 {
		return fmt.Errorf("no category %s", id)
	}
	c := snap.Categories[i]
	if c.State == model.CategoryCollapsed {
		c.State = model.CategoryOpen
	} else {
		c.State = model.CategoryCollapsed
	}
	if err := a.eng.UpsertCategory(ctx, c); err != nil {
		return err
	}
	return a.pushIfConfigured(ctx)
}

func (a *app) importFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var dump model.Dump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := a.eng.ReplaceAll(ctx, dump); err != nil {
		return err
	}
	ok(fmt.Sprintf("imported %d items and %d categories", len(dump.Items), len(dump.Categories)))
	return a.pushIfConfigured(ctx)
}

func (a *app) exportFile(path string) error {
	dump, err := a.eng.Export()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	if path == "" {
		fmt.Println(string(raw))
		return nil
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	ok("exported to " + path)
	return nil
}

func (a *app) setTheme(ctx context.Context, theme string) error {
	if err := a.eng.SetTheme(ctx, theme); err != nil {
		return err
	}
	ok("theme set to " + theme)
	return nil
}

func (a *app) syncInit(ctx context.Context, room, url string) error {
	if err := a.eng.InitSync(ctx, room, url); err != nil {
		return err
	}
	st := a.awaitSettled(syncTimeout)
	fmt.Println("sync:", renderState(st))
	if st.Status == session.StatusError {
		return st.Failure
	}
	return nil
}

func (a *app) syncStatus() error {
	settings, err := a.eng.Settings()
	if err != nil {
		return err
	}
	if settings.Sync == nil {
		fmt.Println("sync:", renderState(session.State{Status: session.StatusNone}))
		return nil
	}
	fmt.Printf("sync: %s room=%s url=%s client=%s\n", renderState(a.eng.SyncState()), settings.Sync.Room, settings.Sync.URL, settings.ClientID)
	return nil
}

func (a *app) syncResume(ctx context.Context) error {
	settings, err := a.eng.Settings()
	if err != nil {
		return err
	}
	if settings.Sync == nil {
		return fmt.Errorf("sync is not configured, run sync init first")
	}
	if err := a.eng.ResumeSync(ctx); err != nil {
		return err
	}
	st := a.awaitSettled(syncTimeout)
	fmt.Println("sync:", renderState(st))
	if st.Status == session.StatusError {
		return st.Failure
	}
	return nil
}

// pushIfConfigured connects long enough for the relay to acknowledge the
// local state, so one-shot commands still reach other devices.
func (a *app) pushIfConfigured(ctx context.Context) error {
	settings, err := a.eng.Settings()
	if err != nil || settings.Sync == nil {
		return err
	}
	if err := a.eng.ResumeSync(ctx); err != nil {
		return err
	}
	st := a.awaitSettled(syncTimeout)
	if st.Status != session.StatusSynced {
		fail("not synced: " + st.String())
	}
	return nil
}

// awaitSettled waits for the session to leave the syncing state.
func (a *app) awaitSettled(timeout time.Duration) session.State {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case st := <-a.states:
			if st.Status != session.StatusSyncing {
				return st
			}
		case <-t.C:
			return a.eng.SyncState()
		}
	}
}

// watch prints the list whenever another device changes it. Lines on stdin
// control the connection: pause, resume, status, ls, quit.
func (a *app) watch(ctx context.Context) error {
	if err := a.list(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exit)

	for {
		select {
		case <-a.changes:
			if err := a.list(); err != nil {
				return err
			}
		case st := <-a.states:
			fmt.Println("sync:", renderState(st))
		case line, open := <-lines:
			if !open {
				return nil
			}
			switch line {
			case "pause":
				_ = a.eng.PauseSync(ctx)
			case "resume":
				_ = a.eng.ResumeSync(ctx)
			case "status":
				fmt.Println("sync:", renderState(a.eng.SyncState()))
			case "ls":
				_ = a.list()
			case "quit", "exit":
				return nil
			case "":
			default:
				fail("unknown command " + line)
			}
		case <-exit:
			return nil
		}
	}
}

func (a *app) history(id, output string) error {
	s, isSqlite := a.adapter.(*sqlitestore.Store)
	if !isSqlite {
		return fmt.Errorf("history needs the sqlite store")
	}
	snap, err := a.eng.CurrentSnapshot()
	if err != nil {
		return err
	}
	key := model.Key{Kind: model.KindItem, ID: id}
	if slices.ContainsFunc(snap.Categories, func(c model.Category) bool { return c.ID == id }) {
		key.Kind = model.KindCategory
	}
	doc, err := s.Doc()
	if err != nil {
		return err
	}
	if err := viz.RenderToFile(doc, key, output); err != nil {
		return err
	}
	ok("rendered " + key.String() + " to file://" + output)
	return nil
}
