// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Command efimon-launch spawns or attaches to a target process,
// registers it with a running efimond daemon, and requests teardown
// when the target exits or the sample budget is met.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/efimon/efimon/internal/config"
	"github.com/efimon/efimon/internal/launcher"
	"github.com/efimon/efimon/internal/logger"
)

func main() {
	opts, cfg, err := parseArgs()
	if err != nil {
		os.Exit(-1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	opts.Log = log

	l, st := launcher.New(*opts)
	if !st.Ok() {
		log.Error("failed to start launcher", "error", st.Error())
		os.Exit(-1)
	}

	if st := l.Run(); !st.Ok() {
		log.Error("launcher terminated with an error", "error", st.Error())
		os.Exit(-1)
	}
	log.Info("efimon-launch graceful shutdown complete")
}

func parseArgs() (*launcher.Options, *config.Config, error) {
	app := kingpin.New("efimon-launch", "Spawn or attach a target process and register it with efimond.")

	samples := app.Flag("samples", "Sample budget for the worker (0 = unbounded)").Short('s').Default("0").Int()
	frequency := app.Flag("frequency", "Perf sampling frequency (Hz)").Short('f').Default("99").Int()
	delaySec := app.Flag("delay", "Sampling delay (seconds)").Short('d').Default("1").Uint()
	port := app.Flag("port", "Control socket identifier of the target daemon").Short('p').Default("9999").Int()
	pid := app.Flag("pid", "Attach to an already-running pid, instead of spawning a command").Int()
	perfEnabled := app.Flag("perf", "Enable perf-record/annotate instruction-mix sampling").Bool()
	cmd := app.Arg("cmd", "Command and arguments to spawn (mutually exclusive with --pid)").Strings()

	updateConfig := config.RegisterFlags(app)

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	cfg := config.DefaultConfig()
	if err := updateConfig(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if *pid != 0 && len(*cmd) > 0 {
		err := fmt.Errorf("--pid and a spawn command are mutually exclusive")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if *pid == 0 && len(*cmd) == 0 {
		err := fmt.Errorf("one of --pid or a command to spawn is required")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	socketPath := fmt.Sprintf("/tmp/efimon-%d.sock", *port)

	return &launcher.Options{
		SocketPath:   socketPath,
		Command:      *cmd,
		PID:          *pid,
		Samples:      *samples,
		Unbounded:    *samples == 0,
		Delay:        time.Duration(*delaySec) * time.Second,
		Frequency:    *frequency,
		EnablePerf:   *perfEnabled,
		PollInterval: 500 * time.Millisecond,
	}, cfg, nil
}
