package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zerrdev/easycli/internal/config"
	"github.com/zerrdev/easycli/internal/history"
	"github.com/zerrdev/easycli/internal/logger"
	"github.com/zerrdev/easycli/internal/metrics"
	"github.com/zerrdev/easycli/internal/process"
	"github.com/zerrdev/easycli/internal/registry"
	"github.com/zerrdev/easycli/internal/supervisor"
	"github.com/zerrdev/easycli/pkg/template"
)

// session is the composition root for one invocation: it wires template
// expansion into the supervisor for `up` and the registry into
// signal-based termination for `down`.
type session struct {
	cfg  *config.FileConfig
	reg  *registry.Registry
	hist *history.Store
	log  *slog.Logger
}

func newSession(configPath string, debug bool) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(cfg.RegistryDir)
	if err != nil {
		return nil, err
	}
	histPath := cfg.HistoryPath
	if histPath == "" {
		histPath = history.DefaultPath()
	}
	hist, err := history.Open(histPath)
	if err != nil {
		return nil, err
	}
	if err := hist.EnsureSchema(context.Background()); err != nil {
		_ = hist.Close()
		return nil, err
	}
	return &session{
		cfg:  cfg,
		reg:  reg,
		hist: hist,
		log:  logger.New(debug),
	}, nil
}

func (s *session) close() {
	if s.hist != nil {
		_ = s.hist.Close()
	}
}

// resolveGroups maps requested names to configured groups; no names
// means every configured group.
func (s *session) resolveGroups(names []string) ([]*config.GroupConfig, error) {
	if len(names) == 0 {
		out := make([]*config.GroupConfig, 0, len(s.cfg.Groups))
		for i := range s.cfg.Groups {
			out = append(out, &s.cfg.Groups[i])
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no groups configured")
		}
		return out, nil
	}
	out := make([]*config.GroupConfig, 0, len(names))
	for _, n := range names {
		g, err := s.cfg.Group(n)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Up spawns the requested groups and supervises them until SIGINT or
// SIGTERM, then tears everything down and prunes the registry.
func (s *session) Up(groups []string, metricsListen string) error {
	targets, err := s.resolveGroups(groups)
	if err != nil {
		return err
	}

	if removed, err := s.reg.CleanupStale(); err != nil {
		s.log.Warn("registry cleanup failed", "err", err)
	} else {
		for _, e := range removed {
			s.log.Debug("removed stale record", "group", e.Group, "item", e.Item, "pid", e.PID)
		}
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if metricsListen != "" {
		go s.serveMetrics(metricsListen)
	}

	sup := supervisor.New(supervisor.Options{
		Logger:  s.log,
		OnSpawn: s.onSpawn,
		OnExit:  s.onExit,
	})
	defer sup.Close()

	started := make([]string, 0, len(targets))
	for _, g := range targets {
		spec, err := s.groupSpec(g)
		if err != nil {
			return err
		}
		if err := sup.SpawnGroup(*spec); err != nil {
			return err
		}
		started = append(started, g.Name)
	}
	s.log.Info("groups up", "groups", started)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	s.log.Info("shutting down", "signal", sig.String())

	done := sup.KillAll()
	select {
	case <-done:
	case <-time.After(supervisor.DefaultKillGrace + 10*time.Second):
		s.log.Warn("timed out waiting for group shutdown")
	}
	for _, name := range started {
		_ = s.hist.Record(context.Background(), history.Event{Type: history.EventKill, Group: name})
		if err := s.reg.DeleteGroup(name); err != nil {
			s.log.Warn("registry prune failed", "group", name, "err", err)
		}
	}
	return nil
}

func (s *session) groupSpec(g *config.GroupConfig) (*supervisor.GroupSpec, error) {
	policy, err := process.ParseRestartPolicy(g.RestartPolicy)
	if err != nil {
		return nil, err
	}
	items := make([]template.Item, 0, len(g.Items))
	for _, it := range g.Items {
		items = append(items, template.Item{Name: it.Name, Value: it.Value})
	}
	return &supervisor.GroupSpec{
		Name:     g.Name,
		Tool:     g.Tool,
		Template: g.Template,
		Params:   g.Params,
		Items:    items,
		Policy:   policy,
		Log:      s.cfg.CaptureConfig(g),
	}, nil
}

func (s *session) onSpawn(info supervisor.SpawnInfo) {
	err := s.reg.Write(registry.Entry{
		PID:           info.PID,
		Group:         info.Group,
		Item:          info.Item.Name,
		StartedAtMs:   info.StartedAt.UnixMilli(),
		RestartPolicy: string(info.Policy),
		FullCmd:       info.FullCmd,
	})
	if err != nil {
		s.log.Warn("registry write failed", "group", info.Group, "item", info.Item.Name, "err", err)
	}
	typ := history.EventSpawn
	if info.Restart {
		typ = history.EventRestart
	}
	_ = s.hist.Record(context.Background(), history.Event{
		Type:   typ,
		Group:  info.Group,
		Item:   info.Item.Name,
		PID:    info.PID,
		Detail: info.FullCmd,
	})
}

func (s *session) onExit(info supervisor.ExitInfo) {
	typ := history.EventExit
	detail := fmt.Sprintf("code=%d signal=%s", info.Code, info.Signal)
	if info.CrashLoop {
		typ = history.EventCrashLoop
		detail = "restart limit exceeded within window"
	}
	_ = s.hist.Record(context.Background(), history.Event{
		Type:   typ,
		Group:  info.Group,
		Item:   info.ItemName,
		PID:    info.PID,
		Detail: detail,
	})
	if !info.WillRestart {
		// The record may already describe a newer run of this item
		// (group killed and respawned under the same name); only the
		// exited run's own record is pruned.
		entries, err := s.reg.ReadByGroup(info.Group)
		if err != nil {
			s.log.Warn("registry read failed", "group", info.Group, "err", err)
			return
		}
		for _, e := range entries {
			if e.Item != info.ItemName || e.PID != info.PID {
				continue
			}
			if err := s.reg.Delete(e.Group, e.Item); err != nil {
				s.log.Warn("registry delete failed", "group", e.Group, "item", e.Item, "err", err)
			}
		}
	}
}

func (s *session) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Warn("metrics server stopped", "err", err)
	}
}

// Down terminates processes recorded by a prior `up`, escalating to a
// forced kill after the grace period, and prunes their records.
func (s *session) Down(groups []string, all bool, wait time.Duration) error {
	if wait <= 0 {
		wait = supervisor.DefaultKillGrace
	}
	var entries []registry.Entry
	var err error
	switch {
	case all:
		entries, err = s.reg.ReadAll()
	case len(groups) > 0:
		for _, g := range groups {
			var ge []registry.Entry
			ge, err = s.reg.ReadByGroup(g)
			if err != nil {
				break
			}
			entries = append(entries, ge...)
		}
	default:
		return fmt.Errorf("down requires group names or --all")
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.log.Info("nothing to stop")
		return nil
	}

	var live []registry.Entry
	for _, e := range entries {
		if !registry.IsRunning(e.PID) {
			_ = s.reg.Delete(e.Group, e.Item)
			continue
		}
		if err := registry.Terminate(e.PID); err != nil {
			s.log.Warn("terminate failed", "group", e.Group, "item", e.Item, "pid", e.PID, "err", err)
		}
		live = append(live, e)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		alive := false
		for _, e := range live {
			if registry.IsRunning(e.PID) {
				alive = true
				break
			}
		}
		if !alive {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, e := range live {
		if registry.IsRunning(e.PID) {
			s.log.Warn("grace period expired, force killing", "group", e.Group, "item", e.Item, "pid", e.PID)
			_ = registry.Kill(e.PID)
		}
		_ = s.hist.Record(context.Background(), history.Event{
			Type:  history.EventKill,
			Group: e.Group,
			Item:  e.Item,
			PID:   e.PID,
		})
		if err := s.reg.Delete(e.Group, e.Item); err != nil {
			s.log.Warn("registry delete failed", "group", e.Group, "item", e.Item, "err", err)
		}
		fmt.Printf("stopped %s/%s (pid %d)\n", e.Group, e.Item, e.PID)
	}
	return nil
}
