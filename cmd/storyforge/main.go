// Command storyforge runs the workflow engine's HTTP server: node
// registry discovery, IR loading, session store, outbox poller, and chat
// pipeline, wired together and served over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storyforge/engine/pkg/chat"
	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/executor"
	"github.com/storyforge/engine/pkg/httpapi"
	"github.com/storyforge/engine/pkg/ir"
	"github.com/storyforge/engine/pkg/llm"
	"github.com/storyforge/engine/pkg/metrics"
	"github.com/storyforge/engine/pkg/nodes"
	"github.com/storyforge/engine/pkg/outbox"
	"github.com/storyforge/engine/pkg/queue"
	"github.com/storyforge/engine/pkg/session"
	"github.com/storyforge/engine/pkg/traffic"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry, err := nodes.Discover([]nodes.Provider{nodes.BuiltinProvider})
	if err != nil {
		return err
	}

	loader := ir.NewLoader(cfg.IR.Dirs...)
	if err := loader.Load(); err != nil {
		return err
	}

	store, err := session.New(cfg.Session.StoreRoot)
	if err != nil {
		return err
	}

	mtx := metrics.New()
	exec := executor.New(loader, registry).WithMetrics(mtx)

	recorder := traffic.NewRecorder(cfg.Traffic.Capacity)
	adapter := &llm.Mock{Reply: cfg.LLM.MockReply}
	resources := nodes.Resources{LLM: llm.AdapterFunc(func(ctx context.Context, modelAlias string, messages []llm.Message, timeout time.Duration) (llm.Result, error) {
		start := time.Now()
		res, err := adapter.Chat(ctx, modelAlias, messages, timeout)
		ev := traffic.Event{Type: "llm_chat", Service: modelAlias, ElapsedMs: time.Since(start).Milliseconds()}
		if err != nil {
			ev.Error = err.Error()
		} else {
			ev.RespBody = res.Text
		}
		recorder.Record(ev)
		return res, err
	})}

	pipeline := chat.New(store, exec, resources, logger).WithMetrics(mtx)

	retryPolicy := queue.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		Multiplier:      cfg.Retry.Multiplier,
	}
	dispatcher := queue.NewDispatcher(store)
	dispatcher.Register("status_update", queue.NewExecutorHandler(exec, store, resources, logger, retryPolicy))
	dispatcher.Register("guidance", queue.NewExecutorHandler(exec, store, resources, logger, retryPolicy))

	var q queue.Queue = &queue.NullQueue{Dispatcher: dispatcher}
	poller := outbox.New(store, q, logger).WithPeriod(cfg.Outbox.Period).WithMetrics(mtx)

	server := httpapi.NewServer(loader, exec, registry, store, pipeline, recorder, logger)
	httpServer := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: server}
	metricsServer := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: mtx.Handler()}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTP.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.HTTP.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("shut down cleanly")
	return nil
}
