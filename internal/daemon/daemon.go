// Package daemon is the top-level orchestrator: NIC initialization, one
// aggregator/stats stack per profile, service startup and
// cleanup-on-any-failure.
package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/finchrf/skybridge/internal/aggregator"
	"github.com/finchrf/skybridge/internal/binlog"
	"github.com/finchrf/skybridge/internal/config"
	"github.com/finchrf/skybridge/internal/logger"
	"github.com/finchrf/skybridge/internal/metrics"
	"github.com/finchrf/skybridge/internal/nicinit"
	"github.com/finchrf/skybridge/internal/service"
	"github.com/finchrf/skybridge/internal/statserver"
	"github.com/finchrf/skybridge/internal/thermal"
)

// Run brings the whole supervisor up and blocks until a signal cancels
// ctx or the first failure tears everything down.
func Run(ctx context.Context, settings *config.Settings, profiles, wlans []string) error {
	common := &settings.Common

	banner(settings, profiles, wlans)

	type profileServices struct {
		name     string
		profile  *config.Profile
		services []config.Service
	}
	resolved := make([]profileServices, 0, len(profiles))
	maxBW := 0
	for _, name := range profiles {
		profile, err := settings.Profile(name)
		if err != nil {
			return err
		}
		services, err := settings.Services(name)
		if err != nil {
			return err
		}
		for _, svc := range services {
			if svc.Cfg.Bandwidth > maxBW {
				maxBW = svc.Cfg.Bandwidth
			}
		}
		resolved = append(resolved, profileServices{name: name, profile: profile, services: services})
	}

	if err := nicinit.Init(ctx, common, wlans, maxBW); err != nil {
		return fmt.Errorf("nic init: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer g.Wait()
	defer cancel()

	if common.MetricsPort != 0 {
		g.Go(func() error { return metrics.Serve(gctx, common.MetricsPort) })
	}

	g.Go(func() error { return watchConfig(gctx, settings.Files) })

	for _, prof := range resolved {
		profile := prof.profile

		var log *binlog.Writer
		var err error
		if common.BinaryLogFile != "" {
			log, err = binlog.Open(fmt.Sprintf(common.BinaryLogFile, prof.name), settings.Path.LogDir)
			if err != nil {
				return fmt.Errorf("open binary log: %w", err)
			}
			g.Go(func() error { return log.Run(gctx) })
		}

		var logSub aggregator.Subscriber
		if log != nil {
			logSub = log
		}
		agg := aggregator.New(aggregator.Config{
			Profile:         prof.name,
			Wlans:           wlans,
			LinkDomain:      profile.LinkDomain,
			Version:         common.Version,
			RssiDelta:       common.TxSelRssiDelta,
			CounterRelDelta: common.TxSelCounterRelDelta,
			CounterAbsDelta: common.TxSelCounterAbsDelta,
			MavlinkErrRate:  common.MavlinkErrRate,
			Debug:           common.Debug,
		}, logSub)

		if profile.StatsPort != 0 {
			srv := &statserver.Server{Port: profile.StatsPort, Agg: agg}
			g.Go(func() error { return srv.ListenAndServe(gctx) })
		}

		probe := &thermal.Probe{
			Wlans:    wlans,
			Interval: common.TempInterval(),
			Report:   agg.SetRFTemperature,
		}
		g.Go(func() error { return probe.Run(gctx) })

		builder := &service.Builder{
			Settings: settings,
			Wlans:    wlans,
			LinkID:   service.LinkID(profile.LinkDomain),
			Agg:      agg,
		}
		for _, svc := range prof.services {
			svc := svc
			logger.Info("starting stream", "profile", prof.name, "service", svc.Name,
				"link_domain", profile.LinkDomain)
			g.Go(func() error { return builder.Run(gctx, svc) })
		}
	}

	return g.Wait()
}

// watchConfig logs a warning when a loaded config file changes on disk.
// NIC state and running workers cannot be re-configured live; a restart
// applies the new settings.
func watchConfig(ctx context.Context, files []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
		<-ctx.Done()
		return nil
	}
	defer watcher.Close()

	for _, f := range files {
		if err := watcher.Add(f); err != nil {
			logger.Warn("cannot watch config file", "file", f, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				logger.Warn("config file changed on disk, restart to apply", "file", ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch error", "error", err)
		}
	}
}

func banner(settings *config.Settings, profiles, wlans []string) {
	var uts unix.Utsname
	machine, release, host := "?", "?", "?"
	if err := unix.Uname(&uts); err == nil {
		machine = unix.ByteSliceToString(uts.Machine[:])
		release = unix.ByteSliceToString(uts.Release[:])
		host = unix.ByteSliceToString(uts.Nodename[:])
	}
	logger.Info("skybridge starting", "version", settings.Common.Version)
	logger.Info("runtime", "arch", machine, "kernel", release, "host", host,
		"profiles", strings.Join(profiles, ","), "wlans", strings.Join(wlans, ", "))
	logger.Info("using config files", "files", strings.Join(settings.Files, ", "))
}
