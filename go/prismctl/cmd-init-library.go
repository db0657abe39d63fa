package main

import (
	"context"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/registry"
)

type cmdInitLibrary struct {
	DSN string    `long:"dsn" env:"PRISM_WAREHOUSE_DSN" description:"Warehouse DSN; defaults to prism.db for the sandbox target"`
	Log LogConfig `group:"Logging" namespace:"log" env-namespace:"PRISM_LOG"`

	Args struct {
		Target string `positional-arg-name:"target" description:"Warehouse target: sandbox or dev"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd cmdInitLibrary) Execute(_ []string) error {
	initLog(cmd.Log)

	var whCfg = WarehouseConfig{Target: cmd.Args.Target, DSN: cmd.DSN}
	wh, err := whCfg.open()
	if err != nil {
		return err
	}
	defer wh.Close()

	reg, err := registry.New(wh)
	if err != nil {
		return err
	}

	var entries = connector.ListSupported()
	progress("init-library", "fingerprinting %d catalog entries", len(entries))
	if err = reg.Initialize(context.Background(), entries); err != nil {
		return err
	}
	progress("init-library", "blueprint registry is published on target %s", wh.Target())
	return nil
}
