// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/base"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/server"
	"github.com/cockroachdb/viewflow/pkg/util/humanizeutil"
	"github.com/cockroachdb/viewflow/pkg/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// setupCommand applies the global flags before a command runs.
func setupCommand(_ *cobra.Command, _ []string) error {
	log.SetVerbosity(cliCtx.verbosity)
	switch cliCtx.format {
	case "", "table", "tsv":
	default:
		return errors.Newf("unknown output format %q", cliCtx.format)
	}
	return nil
}

// engineConfig loads the config file, if any, and applies the flags that
// override it.
func engineConfig() (base.EngineConfig, error) {
	cfg := base.DefaultEngineConfig()
	if cliCtx.configPath != "" {
		var err error
		if cfg, err = base.LoadEngineConfig(cliCtx.configPath); err != nil {
			return base.EngineConfig{}, err
		}
	}
	if cliCtx.store != "" {
		cfg.Store = cliCtx.store
	}
	if evictionBudget.IsSet() {
		cfg.Eviction.Budget = humanizeutil.ByteSize(cliCtx.evictionBudget)
	}
	return cfg, cfg.Validate()
}

// startEngine starts an engine for g and, if requested, serves its
// metrics. The returned function stops both.
func startEngine(ctx context.Context, g *graph.Graph) (*server.Engine, func(), error) {
	cfg, err := engineConfig()
	if err != nil {
		return nil, nil, err
	}
	e, err := server.NewEngine(ctx, g, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Start(ctx); err != nil {
		e.Stop(ctx)
		return nil, nil, err
	}
	stopMetrics := func() {}
	if cliCtx.metricsAddr != "" {
		if stopMetrics, err = serveMetrics(ctx, e, cliCtx.metricsAddr); err != nil {
			e.Stop(ctx)
			return nil, nil, err
		}
	}
	return e, func() {
		stopMetrics()
		e.Stop(ctx)
	}, nil
}

// serveMetrics serves the engine's metrics at /metrics on addr until the
// returned function is called.
func serveMetrics(ctx context.Context, e *server.Engine, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.Registry().Gatherer(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warningf(ctx, "metrics server: %v", err)
		}
	}()
	log.Infof(ctx, "serving metrics on http://%s/metrics", ln.Addr())
	return func() {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warningf(ctx, "stopping metrics server: %v", err)
		}
		<-done
	}, nil
}
