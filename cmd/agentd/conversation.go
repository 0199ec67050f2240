package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/hitl"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/toolgate"
)

var (
	startPersona string
	startTenant  string
	startUser    string
	startScopes  []string

	decideVerb   string
	decideReason string
	decideArgs   string
)

func init() {
	startCmd.Flags().StringVar(&startPersona, "persona", "", "entry persona (default: registry default)")
	startCmd.Flags().StringVar(&startTenant, "tenant", "default", "tenant id")
	startCmd.Flags().StringVar(&startUser, "user", "", "caller identity")
	startCmd.Flags().StringSliceVar(&startScopes, "scope", nil, "permission scopes")

	decideCmd.Flags().StringVar(&decideVerb, "verb", "approve", "approve, edit or reject")
	decideCmd.Flags().StringVar(&decideReason, "reason", "", "rejection reason")
	decideCmd.Flags().StringVar(&decideArgs, "arguments", "", "replacement arguments as JSON (edit)")

	rootCmd.AddCommand(startCmd, sendCmd, statusCmd, decideCmd, cancelCmd, forkCmd, historyCmd)
}

// withOrchestrator loads config, dials Temporal and hands the orchestrator
// to fn.
func withOrchestrator(fn func(o *orchestrator.Orchestrator) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

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

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("connecting to temporal: %w", err)
	}
	defer tc.Close()

	gateway := toolgate.New(cfg.Workflow.ToolTimeout.Duration(), logger.Underlying())
	if err := registerTools(gateway); err != nil {
		return err
	}
	registry, err := defaultRegistry(gateway)
	if err != nil {
		return err
	}

	o := orchestrator.New(tc, store, registry, orchestrator.Options{
		TaskQueue:       cfg.Workflow.TaskQueue,
		MaxCycles:       cfg.Reasoning.MaxCycles,
		TurnTimeout:     cfg.Workflow.TurnTimeout.Duration(),
		ApprovalTimeout: cfg.Workflow.ApprovalTimeout.Duration(),
		GatedTools:      gatedTools(gateway),
	}, nil, logger)
	return fn(o)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var startCmd = &cobra.Command{
	Use:   "start [message]",
	Short: "Start a new conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var initial string
		if len(args) > 0 {
			initial = args[0]
		}
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			h, err := o.StartConversation(cmd.Context(), orchestrator.StartRequest{
				Persona:        startPersona,
				InitialMessage: initial,
				Security: contextstore.SecurityContext{
					Identity:    startUser,
					Tenant:      startTenant,
					Scopes:      startScopes,
					TokenExpiry: time.Now().Add(12 * time.Hour),
				},
			})
			if err != nil {
				return err
			}
			return printJSON(h)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <workflow-id> <message>",
	Short: "Send a user message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			return o.SendMessage(cmd.Context(), args[0], args[1])
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show a conversation's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			snap, err := o.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(snap)
		})
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide <workflow-id>",
	Short: "Resolve a pending approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := hitl.Decision{Verb: hitl.Verb(decideVerb), Reason: decideReason}
		if decideArgs != "" {
			if err := json.Unmarshal([]byte(decideArgs), &d.Arguments); err != nil {
				return fmt.Errorf("parsing --arguments: %w", err)
			}
		}
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			return o.Decide(cmd.Context(), args[0], d)
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			return o.Cancel(cmd.Context(), args[0], "cancelled from cli")
		})
	},
}

var forkCmd = &cobra.Command{
	Use:   "fork <workflow-id>",
	Short: "Fork a conversation into an independent branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			h, err := o.Fork(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(h)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <workflow-id>",
	Short: "List a conversation's persisted context versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			hist, err := o.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(hist)
		})
	},
}
