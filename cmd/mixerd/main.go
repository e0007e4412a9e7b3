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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixerd/mixerd/internal/api"
	"github.com/mixerd/mixerd/internal/config"
	"github.com/mixerd/mixerd/internal/core"
	"github.com/mixerd/mixerd/internal/metrics"
	"github.com/mixerd/mixerd/internal/modules/nullsink"
	"github.com/mixerd/mixerd/internal/sample"
	"github.com/mixerd/mixerd/internal/sink"
	"github.com/mixerd/mixerd/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging (text or json format, configurable level).
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	defaultSpec, err := cfg.DefaultSampleSpec()
	if err != nil {
		slog.Error("invalid default sample spec", "error", err)
		os.Exit(1)
	}

	slog.Info("starting mixerd",
		"http_port", cfg.HTTPPort,
		"default_spec", defaultSpec.String(),
		"data_dir", cfg.DataDir,
	)

	// Swap in the optimized sample kernels; the scalar references stay
	// available for the equivalence tests.
	sample.InstallOptimized(logger)

	// Open the state database and run migrations.
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	sinkStates := store.NewSinkStateRepository(db)

	c, err := core.New(defaultSpec, logger)
	if err != nil {
		slog.Error("failed to create core", "error", err)
		os.Exit(1)
	}

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Main-thread maintenance loop (deferred module unloads).
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		c.Run(appCtx)
	}()

	// Load the null sink device.
	mod, err := nullsink.Load(c, cfg.SinkArgs)
	if err != nil {
		slog.Error("failed to load null sink module", "error", err)
		os.Exit(1)
	}
	c.AddModule(mod)

	// Reapply persisted volume and mute.
	restoreSinkState(appCtx, c, sinkStates)

	// Admin HTTP server: sink control plus prometheus metrics.
	provider := &sinkProviderAdapter{core: c, states: sinkStates}

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(provider, time.Now()))

	handler := api.NewServer(provider, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	appCancel()
	<-coreDone
	c.UnloadAll()

	slog.Info("mixerd stopped")
}

// restoreSinkState reapplies persisted mute to every registered sink
// that has saved state, and the persisted volume where its channel
// count matches the sink's.
func restoreSinkState(ctx context.Context, c *core.Core, states *store.SinkStateRepository) {
	for _, s := range c.Sinks() {
		st, ok, err := states.Get(ctx, s.Name)
		if err != nil {
			slog.Error("failed to load persisted sink state", "sink", s.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if len(st.Volumes) == int(s.Spec.Channels) {
			cv := sample.CVolume{Channels: s.Spec.Channels}
			for i, v := range st.Volumes {
				cv.Values[i] = sample.Volume(v)
			}
			if err := s.SetVolume(cv); err != nil {
				slog.Error("failed to restore sink volume", "sink", s.Name, "error", err)
			}
		} else if len(st.Volumes) > 0 {
			slog.Warn("persisted volume has wrong channel count, ignoring",
				"sink", s.Name,
				"persisted_channels", len(st.Volumes),
				"sink_channels", s.Spec.Channels,
			)
		}

		s.SetMuted(st.Muted)
		slog.Info("restored sink state", "sink", s.Name, "muted", st.Muted)
	}
}

// sinkProviderAdapter bridges the core's sink registry to the API and
// metrics packages, persisting control changes as they are applied.
type sinkProviderAdapter struct {
	core   *core.Core
	states *store.SinkStateRepository
}

func sinkEntry(s *sink.Sink) api.SinkEntry {
	vol := s.Volume()
	volumes := make([]uint32, vol.Channels)
	for i := range volumes {
		volumes[i] = uint32(vol.Values[i])
	}
	return api.SinkEntry{
		Name:        s.Name,
		Description: s.Description,
		Driver:      s.Driver,
		State:       s.State().String(),
		Format:      s.Spec.Format.String(),
		Rate:        s.Spec.Rate,
		Channels:    s.Spec.Channels,
		ChannelMap:  s.Map.String(),
		Volumes:     volumes,
		Muted:       s.Muted(),
	}
}

func (a *sinkProviderAdapter) ListSinks() []api.SinkEntry {
	sinks := a.core.Sinks()
	entries := make([]api.SinkEntry, len(sinks))
	for i, s := range sinks {
		entries[i] = sinkEntry(s)
	}
	return entries
}

func (a *sinkProviderAdapter) GetSink(name string) (api.SinkEntry, bool) {
	s, ok := a.core.GetSink(name)
	if !ok {
		return api.SinkEntry{}, false
	}
	return sinkEntry(s), true
}

func (a *sinkProviderAdapter) GetSinkLatency(name string) (time.Duration, error) {
	s, ok := a.core.GetSink(name)
	if !ok {
		return 0, fmt.Errorf("sink %q not found", name)
	}
	return s.GetLatency().Duration(), nil
}

func (a *sinkProviderAdapter) SetSinkVolume(name string, volumes []uint32) error {
	s, ok := a.core.GetSink(name)
	if !ok {
		return fmt.Errorf("sink %q not found", name)
	}

	cv := sample.CVolume{Channels: uint8(len(volumes))}
	for i, v := range volumes {
		cv.Values[i] = sample.Volume(v)
	}
	if err := s.SetVolume(cv); err != nil {
		return err
	}

	a.persist(s)
	return nil
}

func (a *sinkProviderAdapter) SetSinkMuted(name string, muted bool) error {
	s, ok := a.core.GetSink(name)
	if !ok {
		return fmt.Errorf("sink %q not found", name)
	}
	s.SetMuted(muted)

	a.persist(s)
	return nil
}

func (a *sinkProviderAdapter) SuspendSink(name string, suspend bool) error {
	s, ok := a.core.GetSink(name)
	if !ok {
		return fmt.Errorf("sink %q not found", name)
	}

	switch {
	case suspend && s.State() == sink.StateRunning:
		s.SetState(sink.StateSuspended)
	case !suspend && s.State() == sink.StateSuspended:
		s.SetState(sink.StateRunning)
	}
	return nil
}

func (a *sinkProviderAdapter) persist(s *sink.Sink) {
	vol := s.Volume()
	volumes := make([]uint32, vol.Channels)
	for i := range volumes {
		volumes[i] = uint32(vol.Values[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.states.Save(ctx, store.SinkState{Name: s.Name, Volumes: volumes, Muted: s.Muted()}); err != nil {
		slog.Error("failed to persist sink state", "sink", s.Name, "error", err)
	}
}

func (a *sinkProviderAdapter) SinkStats() []metrics.SinkStatsEntry {
	sinks := a.core.Sinks()
	entries := make([]metrics.SinkStatsEntry, len(sinks))
	for i, s := range sinks {
		e := metrics.SinkStatsEntry{
			Name:          s.Name,
			State:         s.State().String(),
			RenderedBytes: s.RenderedBytes.Load(),
			RenderCycles:  s.RenderCycles.Load(),
			Underruns:     s.Underruns.Load(),
			RewoundBytes:  s.RewoundBytes.Load(),
		}
		// Latency is only meaningful while the device clock runs.
		if s.State() == sink.StateRunning {
			e.LatencySec = s.GetLatency().Duration().Seconds()
			e.LatencyOK = true
		}
		entries[i] = e
	}
	return entries
}
