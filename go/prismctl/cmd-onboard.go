package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/engines"
	"github.com/prismward/prism/go/factory"
	"github.com/prismward/prism/go/ingest"
	"github.com/prismward/prism/go/observability"
	"github.com/prismward/prism/go/orchestrator"
	"github.com/prismward/prism/go/registry"
	"github.com/prismward/prism/go/scaffold"
	"github.com/prismward/prism/go/tenants"
)

type cmdOnboard struct {
	Days         int             `long:"days" default:"30" description:"Days of source history to ingest"`
	Manifest     string          `long:"manifest" env:"PRISM_MANIFEST" default:"tenants.yaml" description:"Path of the tenants manifest"`
	ArtifactsDir string          `long:"artifacts" default:"artifacts" description:"Directory for generated SQL artifacts"`
	FanOut       int             `long:"fan-out" default:"4" description:"Maximum concurrently executing models"`
	ModelTimeout time.Duration   `long:"model-timeout" default:"2m" description:"Deadline of a single model materialization"`
	FailFast     bool            `long:"fail-fast" description:"Stop scheduling models after the first failure"`
	Warehouse    WarehouseConfig `group:"Warehouse" namespace:"warehouse" env-namespace:"PRISM_WAREHOUSE"`
	Log          LogConfig       `group:"Logging" namespace:"log" env-namespace:"PRISM_LOG"`

	Args struct {
		TenantSlug string `positional-arg-name:"tenant-slug" description:"Tenant to onboard"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd cmdOnboard) Execute(_ []string) error {
	initLog(cmd.Log)

	// SIGINT and SIGTERM request cooperative cancellation: in-flight models
	// drain and the run exits with the cancelled code.
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
	progress("onboard", "initializing connector library on target %s", wh.Target())
	if err = reg.Initialize(ctx, connector.ListSupported()); err != nil {
		return err
	}

	sc, err := scaffold.New(wh, reg, cmd.ArtifactsDir)
	if err != nil {
		return err
	}

	var orch = &orchestrator.Orchestrator{
		Warehouse:  wh,
		Tenants:    store,
		Scaffolder: sc,
		Ingestor:   ingest.NewSynthetic(wh),
		Resolver:   factory.NewResolver(engines.NewRegistry()),
		Config: orchestrator.Config{
			FanOut:       cmd.FanOut,
			ModelTimeout: cmd.ModelTimeout,
			FailFast:     cmd.FailFast,
		},
		Readiness: func(tenantSlug string, state orchestrator.ReadinessState, message string) {
			progress("onboard", "%s: %s", state, message)
		},
	}

	rep, err := orch.Onboard(ctx, cmd.Args.TenantSlug, cmd.Days)
	if rep != nil {
		var counts = make(map[observability.Status]int)
		for _, r := range rep.Results {
			counts[r.Status]++
		}
		progress("onboard", "invocation %s: %d ok, %d failed, %d skipped, %d cancelled, %d timed out",
			rep.InvocationID,
			counts[observability.StatusSuccess],
			counts[observability.StatusError],
			counts[observability.StatusSkipped],
			counts[observability.StatusCancelled],
			counts[observability.StatusTimedOut])
	}
	if err != nil {
		log.WithField("tenant", cmd.Args.TenantSlug).WithError(err).Error("onboarding failed")
		return err
	}
	progress("onboard", "tenant %s is active", cmd.Args.TenantSlug)
	return nil
}
