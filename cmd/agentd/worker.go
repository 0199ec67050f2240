package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/completion"
	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/enrichment"
	"github.com/fyrsmithlabs/agentd/internal/knowledge"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/router"
	"github.com/fyrsmithlabs/agentd/internal/telemetry"
	"github.com/fyrsmithlabs/agentd/internal/toolgate"
	"github.com/fyrsmithlabs/agentd/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the conversation workflow worker",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "agentd worker starting",
		zap.String("temporal_host", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Workflow.TaskQueue))

	var store contextstore.Store
	if cfg.Store.Path != "" {
		store, err = contextstore.NewSQLiteStore(contextstore.SQLiteConfig{
			Path:         cfg.Store.Path,
			MaxSnapshots: cfg.Store.MaxSnapshots,
		}, logger.Underlying())
		if err != nil {
			return fmt.Errorf("opening context store: %w", err)
		}
	} else {
		store = contextstore.NewMemoryStore(cfg.Store.MaxSnapshots)
	}
	defer func() { _ = store.Close() }()

	know, err := knowledge.NewChromemStore(knowledge.ChromemConfig{
		Path: cfg.Store.KnowledgePath,
	}, logger.Underlying())
	if err != nil {
		return fmt.Errorf("opening knowledge store: %w", err)
	}
	defer func() { _ = know.Close() }()

	gateway := toolgate.New(cfg.Workflow.ToolTimeout.Duration(), logger.Underlying())
	if err := registerTools(gateway); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	registry, err := defaultRegistry(gateway)
	if err != nil {
		return fmt.Errorf("building persona registry: %w", err)
	}

	// The scripted provider keeps the worker runnable offline. Deployments
	// swap in a real model client behind completion.Provider.
	if cfg.Provider.APIKey != "" {
		logger.Warn(ctx, "provider.api_key is set but the scripted provider is active; the key is unused")
	}
	provider := completion.NewRetryingProvider(
		completion.NewScriptProvider(),
		completion.RetryConfig{
			MaxAttempts:    cfg.Provider.MaxAttempts,
			InitialBackoff: cfg.Provider.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Provider.MaxBackoff.Duration(),
			AttemptTimeout: cfg.Provider.RequestTimeout.Duration(),
		}, logger)

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:        cfg.Telemetry.TraceEndpoint != "",
		Endpoint:       cfg.Telemetry.TraceEndpoint,
		Insecure:       cfg.Telemetry.TraceInsecure,
		ServiceName:    "agentd",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.New(reg)

	if cfg.Telemetry.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "metrics server failed", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		logger.Info(ctx, "metrics endpoint up", zap.String("addr", cfg.Telemetry.MetricsAddr))
	}

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("connecting to temporal: %w", err)
	}
	defer tc.Close()

	acts := &workflows.Activities{
		Store:     store,
		Knowledge: know,
		Pipeline: enrichment.NewPipeline(know, enrichment.Config{
			SearchTimeout:   cfg.Enrichment.SearchTimeout.Duration(),
			TopK:            cfg.Enrichment.TopK,
			WindowSize:      cfg.Enrichment.WindowSize,
			SummaryMaxChars: cfg.Enrichment.SummaryMaxChars,
		}, logger.Underlying()),
		Provider: provider,
		Gateway:  gateway,
		Registry: registry,
		Metrics:  metrics,
	}
	conv := &workflows.Conversation{Registry: registry}

	w := worker.New(tc, cfg.Workflow.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(conv.Run, workflow.RegisterOptions{Name: workflows.WorkflowName})
	w.RegisterActivity(acts)

	logger.Info(ctx, "worker configured", zap.Strings("tools", gateway.ToolNames()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(worker.InterruptCh())
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	logger.Info(ctx, "worker stopped")
	return nil
}

// registerTools wires the built-in tool set. Deployments extend this with
// their own gateway registrations.
func registerTools(g *toolgate.Gateway) error {
	lookup := toolgate.NewFuncTool("lookup_invoice", "Look up an invoice by id.",
		map[string]any{
			"type":     "object",
			"required": []any{"id"},
			"properties": map[string]any{
				"id": map[string]any{"type": "string", "description": "invoice id"},
			},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"id": args["id"], "status": "open"}, nil
		})
	if err := g.Register(lookup); err != nil {
		return err
	}

	del := toolgate.NewFuncTool("delete_records", "Delete records from a table.",
		map[string]any{
			"type":     "object",
			"required": []any{"table"},
			"properties": map[string]any{
				"table": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "number", "minimum": float64(1)},
			},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"deleted": true}, nil
		}).WithScope("records:delete").WithApproval()
	return g.Register(del)
}

func defaultRegistry(g *toolgate.Gateway) (*router.Registry, error) {
	return router.NewRegistry(
		router.Persona{
			ID:           "triage",
			Name:         "Triage",
			Instructions: "You are the entry-point agent. Answer directly or hand off to a specialist.",
			Tools:        g.ToolNames(),
		},
		router.Persona{
			ID:           "billing",
			Name:         "Billing",
			Instructions: "You handle invoices and billing records.",
			Tools:        []string{"lookup_invoice"},
		},
	)
}

// gatedTools lists the registered tools that require approval.
func gatedTools(g *toolgate.Gateway) []string {
	var out []string
	for _, name := range g.ToolNames() {
		if tool, ok := g.Tool(name); ok && tool.RequiresApproval() {
			out = append(out, name)
		}
	}
	return out
}
