package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/media-relay/internal/heartbeat"
)

// service is one long-running part of the relay. beat > 0 makes
// runMonitored refresh its heartbeat for services that never report on their
// own.
type service struct {
	name string
	beat time.Duration
	run  func(context.Context) error
}

func (r *Runtime) services() []service {
	services := []service{{name: "scheduler", run: r.scheduler.Start}}
	for _, connector := range r.connectors {
		services = append(services, service{
			name: "connector:" + strings.ToLower(strings.TrimSpace(connector.Name())),
			run:  connector.Start,
		})
	}
	return append(services, service{name: "api", beat: 20 * time.Second, run: r.serveAPI})
}

func (r *Runtime) serveAPI(context.Context) error {
	if err := r.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run blocks until ctx ends or any service fails, then shuts the admin API
// down and waits for every service to return.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("media-relay runtime starting",
		"addr", r.cfg.HTTPAddr,
		"cache_backend", r.backend.name,
		"caches", len(r.caches),
		"connectors", len(r.connectors),
		"work_dir", r.cfg.WorkDir,
	)
	if r.heartbeat != nil {
		r.heartbeat.Beat("runtime", "running")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, store := range r.gateway.Stores() {
		group.Go(func() error { return store.Start(groupCtx) })
	}
	for _, svc := range r.services() {
		group.Go(func() error {
			return runMonitored(groupCtx, r.reporter(), svc.name, svc.beat, svc.run)
		})
	}
	if r.heartbeatMonitor != nil {
		group.Go(func() error { return r.heartbeatMonitor.Start(groupCtx) })
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	if r.heartbeat != nil {
		r.heartbeat.Stopped("runtime", "stopped")
	}
	r.logger.Info("media-relay runtime stopped", "error", err)
	return err
}

// reporter keeps a disabled registry from turning into a non-nil interface.
func (r *Runtime) reporter() heartbeat.Reporter {
	if r.heartbeat == nil {
		return nil
	}
	return r.heartbeat
}

func (r *Runtime) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}

// runMonitored runs one service and mirrors its lifecycle into reporter.
// Cancellation is a clean stop; any other error degrades the component.
func runMonitored(
	ctx context.Context,
	reporter heartbeat.Reporter,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if reporter == nil {
		return run(ctx)
	}
	reporter.Starting(component, "starting")
	reporter.Beat(component, "running")

	stopBeats := func() {}
	if beatInterval > 0 {
		beatCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-beatCtx.Done():
					return
				case <-ticker.C:
					reporter.Beat(component, "running")
				}
			}
		}()
		stopBeats = func() {
			cancel()
			<-done
		}
	}

	err := run(ctx)
	stopBeats()
	if err != nil && ctx.Err() == nil {
		reporter.Degrade(component, "exited with error", err)
		return err
	}
	reporter.Stopped(component, "stopped")
	return err
}
