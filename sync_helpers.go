package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/callsync/callsync-go/internal/config"
	"github.com/callsync/callsync-go/internal/crm"
	"github.com/callsync/callsync-go/internal/devicelog"
	"github.com/callsync/callsync-go/internal/syncengine"
)

// engineHandles bundles the engine with the resources the caller must close.
type engineHandles struct {
	engine *syncengine.Engine
	client *crm.Client
	store  *syncengine.Store
	logger *slog.Logger
}

func (h *engineHandles) Close() {
	h.store.Close()
}

// buildEngine wires the reader, CRM client, and store into an engine from
// the resolved config. Everything is constructed here, once, and passed by
// reference — no package-level singletons.
func buildEngine(ctx context.Context) (*engineHandles, error) {
	if err := requireServerURL(); err != nil {
		return nil, err
	}

	logger := buildLogger()

	ts, err := crm.TokenSourceFromPath(ctx,
		resolvedCfg.ServerURL, resolvedCfg.ClientID,
		config.TokenPath(), logger)
	if err != nil && !errors.Is(err, crm.ErrNotLoggedIn) {
		return nil, err
	}

	// A missing token is not fatal here: the engine reports it as a
	// readiness failure instead, matching the other prerequisites.
	client := crm.NewClient(resolvedCfg.ServerURL, defaultHTTPClient(), ts, logger)

	store, err := syncengine.NewStore(config.StatePath(), logger)
	if err != nil {
		return nil, err
	}

	reader := devicelog.NewSQLiteReader(resolvedCfg.CallLogPath, logger)

	engine := syncengine.New(syncengine.Config{
		Reader:     reader,
		Client:     client,
		Store:      store,
		SelfNumber: resolvedCfg.SelfNumber,
		BatchLimit: resolvedCfg.BatchLimit,
		Logger:     logger,
	})

	return &engineHandles{engine: engine, client: client, store: store, logger: logger}, nil
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// printResult renders a sync result for humans or machines per --json.
func printResult(result syncengine.Result) error {
	if flagJSON {
		return printJSON(result)
	}

	fmt.Println(result.Message)

	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", e)
	}

	if !result.Success {
		return fmt.Errorf("sync failed")
	}

	return nil
}
