// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Command backupctl drives the backup subsystem from the shell, against the
// same configuration as the daemon.
//
//	backupctl [-config path] [-json] <command> [flags]
//
// Commands:
//
//	create -type full|incremental|wal [-parent id] [-verify] [-upload]
//	list [-type t] [-status s] [-chain id] [-limit n]
//	show <id>
//	verify <id>
//	upload <id>
//	restore [-overwrite] [-verify-db] <id> <target>
//	retention        apply the retention policy
//	preview          show what retention would delete
//	stats            catalog summary
//
// Running backupctl next to a live daemon is safe for read commands. Write
// commands take the same per-chain locks only within one process, so prefer
// the admin API while the daemon runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/signalwatch/internal/app"
	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/logging"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	global := flag.NewFlagSet("backupctl", flag.ContinueOnError)
	configPath := global.String("config", "", "Path to config file (default: CONFIG_PATH or the standard paths)")
	jsonOut := global.Bool("json", false, "Print results as JSON")
	global.Usage = func() { usage(global) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		usage(global)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backupctl: load configuration: %v\n", err)
		return 1
	}
	// Logs go to stderr in console form so stdout stays parseable.
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console", Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backupctl: %v\n", err)
		return 1
	}
	defer a.Close() //nolint:errcheck // Process exits next

	c := &cli{svc: a.Manager, out: os.Stdout, json: *jsonOut}
	if err := c.run(ctx, global.Arg(0), global.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		fmt.Fprintf(os.Stderr, "backupctl: %v\n", err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "usage: backupctl [flags] <create|list|show|verify|upload|restore|retention|preview|stats> [args]\n\n")
	fs.PrintDefaults()
}
