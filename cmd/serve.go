// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/operator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the operator channel on a WebSocket endpoint.",
	Long: `Serve listens for operator connections and runs submitted tasks one at a
time. Each connection can submit a task and follows its progress events; a
disconnect cancels the running task between actions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()

		llm, err := llmclient.New(cfg.LLM, logger)
		if err != nil {
			return err
		}

		st, closeStore, err := newTaskStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		hub := operator.NewHub(logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.HandleWS)

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			hub.Run(ctx)
			return nil
		})
		g.Go(func() error {
			logger.Info("Operator endpoint listening.", zap.String("addr", cfg.Server.Addr))
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			// Tasks run strictly one at a time; parallel browser automation
			// is out of scope.
			for {
				select {
				case <-ctx.Done():
					return nil
				case sub := <-hub.Submissions():
					serveSubmission(ctx, sub, llm, st, logger)
				}
			}
		})

		return g.Wait()
	},
}

// serveSubmission resolves one operator request into a task and runs it.
// Failures are reported on the submitter's channel, never returned; one bad
// submission must not take the server down.
func serveSubmission(
	ctx context.Context,
	sub operator.Submission,
	llm schemas.LLMClient,
	st schemas.TaskStore,
	logger *zap.Logger,
) {
	var task schemas.Task
	var err error
	if sub.Resume() {
		task, err = st.LoadTask(ctx, sub.TaskID())
		if err != nil {
			sub.Channel.EmitError(sub.TaskID(), fmt.Sprintf("cannot resume task: %v", err))
			return
		}
	} else {
		now := time.Now().UTC()
		task = schemas.Task{
			ID:        uuid.New().String(),
			Objective: sub.Objective(),
			StartURL:  sub.StartURL(),
			Status:    schemas.TaskRunning,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	if err := runTask(ctx, cfg, llm, st, sub.Channel, task, sub.Resume(), logger); err != nil {
		logger.Error("Task run failed.", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
