// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Command efimond is the long-running collector daemon: it owns the
// system collector and the per-pid worker map, and serves the control
// socket that the launcher and other clients talk to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/efimon/efimon/internal/config"
	"github.com/efimon/efimon/internal/daemon"
	"github.com/efimon/efimon/internal/logger"
	"github.com/efimon/efimon/internal/metrics"
	"github.com/efimon/efimon/internal/observer/gpu/nvidia"
	"github.com/efimon/efimon/internal/observer/ipmi"
	"github.com/efimon/efimon/internal/observer/procfsobs"
	"github.com/efimon/efimon/internal/observer/rapl"
	"github.com/efimon/efimon/internal/observer/vendorcounter"
	"github.com/efimon/efimon/internal/perf"
	"github.com/efimon/efimon/internal/syscollector"
	"github.com/efimon/efimon/internal/topology"
)

const (
	defaultProcPath  = "/proc"
	defaultSysfsPath = "/sys"
)

type args struct {
	samples      int
	outputFolder string
	frequency    int
	delay        time.Duration
	port         int
}

func main() {
	a, cfg, err := parseArgs()
	if err != nil {
		os.Exit(-1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	if err := os.MkdirAll(a.outputFolder, 0o755); err != nil {
		log.Error("failed to create output folder", "path", a.outputFolder, "error", err)
		os.Exit(-1)
	}

	store := syscollector.NewStore()
	collector := buildCollector(log, store)

	an := daemon.New(daemon.Options{
		ProcPath:          defaultProcPath,
		OutputFolder:      a.outputFolder,
		Classifier:        perf.X86Classifier{},
		AnnotateThreshold: perf.DefaultAnnotateThreshold,
		Log:               log,
	}, store, collector)

	socketPath := socketPathForPort(a.port)
	server, err := daemon.NewControlServer(an, socketPath, log)
	if err != nil {
		log.Error("failed to bind control socket", "path", socketPath, "error", err)
		os.Exit(-1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsAddr := fmt.Sprintf(":%d", 9100+a.port%1000)
	metricsSrv := metrics.New(metricsAddr, time.Second, an, log)

	var g run.Group
	g.Add(
		func() error {
			log.Info("control socket listening", "path", socketPath)
			return server.Serve()
		},
		func(error) {
			server.Close()
		},
	)
	g.Add(
		func() error {
			log.Info("metrics endpoint listening", "addr", metricsAddr)
			return metricsSrv.Run(ctx)
		},
		func(error) {
			if err := metricsSrv.Shutdown(); err != nil {
				log.Warn("metrics shutdown failed", "error", err)
			}
		},
	)
	g.Add(waitForInterrupt(ctx, log, os.Interrupt))

	log.Info("efimond starting", "output-folder", a.outputFolder, "port", a.port)
	if err := g.Run(); err != nil {
		log.Error("efimond terminated with an error", "error", err)
		os.Exit(-1)
	}
	log.Info("efimond graceful shutdown complete")
}

func buildCollector(log *slog.Logger, store *syscollector.Store) *syscollector.Collector {
	topoReader, err := topology.NewProcFSReader(defaultProcPath)
	if err != nil {
		log.Warn("topology reader unavailable", "error", err)
	}
	topo := topology.New()

	proc, err := procfsobs.NewSystemStat(defaultProcPath)
	if err != nil {
		log.Warn("global cpu observer unavailable", "error", err)
		proc = nil
	}

	cpu, err := rapl.New(defaultSysfsPath)
	if err != nil {
		log.Warn("powercap observer unavailable", "error", err)
		cpu = nil
	}

	power, err := ipmi.New("ipmitool", []string{"dcmi", "power", "reading"},
		func(int) []string { return []string{"dcmi", "power", "reading"} },
		[]string{"sdr", "type", "Fan"})
	if err != nil {
		log.Warn("ipmi observer unavailable", "error", err)
		power = nil
	}

	vendor, st := vendorcounter.New("/dev/cpu/%d/msr", topoReader)
	if !st.Ok() {
		log.Warn("vendor counter observer unavailable", "error", st.Error())
		vendor = nil
	}

	gpu, err := nvidia.New()
	if err != nil {
		log.Warn("gpu observer unavailable", "error", err)
		gpu = nil
	}

	return syscollector.New(store, power, cpu, proc, vendor, gpu, topo, topoReader, log)
}

func socketPathForPort(port int) string {
	return fmt.Sprintf("/tmp/efimon-%d.sock", port)
}

func waitForInterrupt(ctx context.Context, log *slog.Logger, signals ...os.Signal) (func() error, func(error)) {
	ctxInternal, cancel := context.WithCancel(ctx)
	return func() error {
			c := make(chan os.Signal, 1)
			signal.Notify(c, signals...)
			log.Info("press Ctrl+C to shutdown")
			select {
			case <-c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-ctxInternal.Done():
				return ctxInternal.Err()
			}
		}, func(error) {
			cancel()
		}
}

func parseArgs() (*args, *config.Config, error) {
	app := kingpin.New("efimond", "Power and performance telemetry collector daemon.")

	samples := app.Flag("samples", "Sample budget (0 = unbounded); parsed but not applied: workers take their budget from each control request").Short('s').Default("0").Int()
	outputFolder := app.Flag("output-folder", "Directory for worker CSV output").Short('o').Default(".").String()
	frequency := app.Flag("frequency", "Perf sampling frequency (Hz); parsed but not applied: requests without a frequency use 99 Hz").Short('f').Default("99").Int()
	delaySec := app.Flag("delay", "Sampling delay (seconds); parsed but not applied: requests without a delay use 1 second").Short('d').Default("1").Uint()
	port := app.Flag("port", "Control socket identifier").Short('p').Default("9999").Int()

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

	return &args{
		samples:      *samples,
		outputFolder: *outputFolder,
		frequency:    *frequency,
		delay:        time.Duration(*delaySec) * time.Second,
		port:         *port,
	}, cfg, nil
}
