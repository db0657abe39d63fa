package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/engines"
	"github.com/prismward/prism/go/factory"
	"github.com/prismward/prism/go/httpapi"
	"github.com/prismward/prism/go/ingest"
	"github.com/prismward/prism/go/orchestrator"
	"github.com/prismward/prism/go/registry"
	"github.com/prismward/prism/go/scaffold"
	"github.com/prismward/prism/go/tenants"
)

type cmdServe struct {
	Port         int             `long:"port" env:"PRISM_PORT" default:"8080" description:"HTTP listen port"`
	Days         int             `long:"days" default:"30" description:"Default days of history for submitted onboardings"`
	Manifest     string          `long:"manifest" env:"PRISM_MANIFEST" default:"tenants.yaml" description:"Path of the tenants manifest"`
	ArtifactsDir string          `long:"artifacts" default:"artifacts" description:"Directory for generated SQL artifacts"`
	Warehouse    WarehouseConfig `group:"Warehouse" namespace:"warehouse" env-namespace:"PRISM_WAREHOUSE"`
	Log          LogConfig       `group:"Logging" namespace:"log" env-namespace:"PRISM_LOG"`
}

func (cmd cmdServe) Execute(_ []string) error {
	initLog(cmd.Log)

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wh, err := cmd.Warehouse.open()
	if err != nil {
		return err
	}
	defer wh.Close()

	store, err := tenants.Open(cmd.Manifest)
	if err != nil {
		return err
	}
	history, err := tenants.NewWarehouseHistory(ctx, wh)
	if err != nil {
		return err
	}
	store.SetHistoryRecorder(history)

	reg, err := registry.New(wh)
	if err != nil {
		return err
	}
	if err = reg.Initialize(ctx, connector.ListSupported()); err != nil {
		return err
	}

	sc, err := scaffold.New(wh, reg, cmd.ArtifactsDir)
	if err != nil {
		return err
	}

	var tracker = httpapi.NewTracker()
	var orch = &orchestrator.Orchestrator{
		Warehouse:  wh,
		Tenants:    store,
		Scaffolder: sc,
		Ingestor:   ingest.NewSynthetic(wh),
		Resolver:   factory.NewResolver(engines.NewRegistry()),
		Readiness:  tracker.Update,
	}

	var server = &httpapi.Server{
		Orchestrator: orch,
		Tenants:      store,
		Tracker:      tracker,
		DefaultDays:  cmd.Days,
	}
	var srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cmd.Port),
		Handler: server.Router(),
	}

	var done = make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()
	progress("serve", "listening on port %d (target %s)", cmd.Port, wh.Target())

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
	}

	var shutdownCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}
