package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/brennhill/ghost-fleet/internal/backoff"
	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/internal/config"
	"github.com/brennhill/ghost-fleet/internal/gcp"
	"github.com/brennhill/ghost-fleet/internal/ipc"
	"github.com/brennhill/ghost-fleet/internal/observability"
	"github.com/brennhill/ghost-fleet/internal/pts"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// buildRunCmd wires BCL/GCP/PTS into a running fleet: a warm ghost-context
// pool, a parallel task scheduler sitting on top of it, and an IPC server
// hosts use to drive individual contexts (spec.md §6). Task submission
// with an actual decision engine attached is left to the embedding
// program: the decision engine is an injected collaborator this binary
// does not ship (spec.md §1c, §4.2 DecisionEngine).
func buildRunCmd() *cobra.Command {
	var headfulFlag bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the ghost-context pool, task scheduler, and IPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if headfulFlag {
				cfg.BCL.Headful = true
			}

			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})
			metrics := observability.NewMetrics()
			events := observability.NewMemoryEventStore(4096)

			debugURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.BCL.RemoteDebuggingPort)
			connect := func(ctx context.Context, contextID string) (*bcl.Session, error) {
				return bcl.Connect(ctx, bcl.Options{
					DebugURL:  debugURL,
					ContextID: contextID,
					Headful:   cfg.BCL.Headful,
				})
			}

			pool := gcp.New(gcp.Options{
				Min:               cfg.Pool.MinWarm,
				Max:               cfg.Pool.MaxSlots,
				ReplenishInterval: cfg.Pool.ReplenishInterval,
				AcquireTimeout:    cfg.Pool.AcquireTimeout,
				Connect:           connect,
				Events:            events,
				Metrics:           metrics,
				Logger:            logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !cfg.Pool.DisableAutoReplenish {
				if err := pool.Initialize(ctx); err != nil {
					return fmt.Errorf("initialize pool: %w", err)
				}
			}
			defer pool.Shutdown()

			backoffPolicy := namedBackoffPolicy(cfg.Scheduler.BackoffPolicy)
			scheduler := pts.New(pts.Options{
				Pool:          pool,
				MaxConcurrent: cfg.Scheduler.MaxConcurrentTasks,
				MaxRetries:    cfg.Scheduler.MaxAttempts - 1,
				BackoffPolicy: backoffPolicy,
				ResourceBudget: fleet.ResourceBudget{
					MaxCPUPercent:   cfg.Scheduler.ResourceBudget.MaxCPUPercent,
					MaxMemoryMB:     cfg.Scheduler.ResourceBudget.MaxMemoryMB,
					SampleInterval:  cfg.Scheduler.ResourceBudget.SampleInterval,
					ViolationWindow: cfg.Scheduler.ResourceBudget.ViolationWindow,
				},
				// No ResourceSampler is wired here: reading a ghost context's
				// OS-level CPU/memory belongs to the embedding browser host,
				// which spec.md §1a scopes out of this engine. Embedders that
				// own that host supply their own pts.ResourceSampler.
				Events:  events,
				Metrics: metrics,
				Logger:  logger,
			})
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			mux.HandleFunc("/status", statusHandler(pool, scheduler))
			if cfg.Diagnostics.Enabled {
				mux.Handle("/ipc", ipc.NewServer(pool.Session, logger))
			}

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := &http.Server{Addr: addr, Handler: mux}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.Info(ctx, "ghost-fleet started", "addr", addr, "debug_url", debugURL, "pool_min", cfg.Pool.MinWarm, "pool_max", cfg.Pool.MaxSlots)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("ipc server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&headfulFlag, "headful", false, "set the headful option; sessions attach to an already-running browser, so it does not change its window mode")
	return cmd
}

// statusHandler reports the pool's point-in-time snapshot alongside any
// task this process has frozen state for via Scheduler.CancelTask, for an
// out-of-band observer (spec.md §3 Pool Snapshot, §4.4 cancel_task).
func statusHandler(pool *gcp.Pool, scheduler *pts.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Pool          fleet.PoolSnapshot `json:"pool"`
			CancelledTask *pts.LastObserved  `json:"cancelled_task,omitempty"`
		}{Pool: pool.Snapshot()}
		if taskID := r.URL.Query().Get("task_id"); taskID != "" {
			resp.CancelledTask = scheduler.LastObservedState(taskID)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func namedBackoffPolicy(name string) backoff.BackoffPolicy {
	switch name {
	case "aggressive":
		return backoff.AggressivePolicy()
	case "conservative":
		return backoff.ConservativePolicy()
	default:
		return backoff.DefaultPolicy()
	}
}
