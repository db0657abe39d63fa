package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/warehouse"
)

// LogConfig configures logrus from flags and the environment.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
}

func initLog(cfg LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if lvl, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(lvl)
	}
}

// WarehouseConfig selects and connects the target warehouse.
type WarehouseConfig struct {
	Target string `long:"target" env:"TARGET" default:"sandbox" choice:"sandbox" choice:"dev" description:"Warehouse target: sandbox (file-local) or dev (managed)"`
	DSN    string `long:"dsn" env:"DSN" description:"Warehouse DSN; defaults to prism.db for the sandbox target"`
}

func (c *WarehouseConfig) open() (*warehouse.Client, error) {
	var target, err = warehouse.ParseTarget(c.Target)
	if err != nil {
		return nil, err
	}
	var dsn = c.DSN
	if dsn == "" {
		if target == warehouse.TargetDev {
			return nil, fmt.Errorf("the dev target requires a DSN (flag --warehouse.dsn or env PRISM_WAREHOUSE_DSN)")
		}
		dsn = "prism.db"
	}
	return warehouse.Open(target, dsn)
}

var progressTag = color.New(color.FgCyan, color.Bold)

// progress prints one operator-facing progress line. Output stays ASCII
// for legacy Windows terminals.
func progress(tag, format string, args ...interface{}) {
	progressTag.Fprintf(os.Stdout, "[%s] ", tag)
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}
