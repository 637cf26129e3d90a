// File: cmd/app.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/actions"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/grounding"
	"github.com/xkilldash9x/webpilot/internal/loop"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// newTaskStore picks the persistence backend: Postgres when a database URL is
// configured, otherwise the in-memory store. The returned cleanup func is safe
// to call once.
func newTaskStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.TaskStore, func(), error) {
	if cfg.Database.URL == "" {
		logger.Debug("No database configured; tasks will not survive restarts.")
		return store.NewMemory(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	st, err := store.NewPostgres(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

// runTask owns one task's browser lifetime: start a session, assemble the
// loop around it, run to a terminal state, tear the session down.
func runTask(
	ctx context.Context,
	cfg *config.Config,
	llm schemas.LLMClient,
	st schemas.TaskStore,
	channel schemas.OperatorChannel,
	task schemas.Task,
	resume bool,
	logger *zap.Logger,
) error {
	session, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		// The operator still gets a terminal event for browser startup failures.
		channel.EmitError(task.ID, fmt.Sprintf("browser startup failed: %v", err))
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer session.Close()

	extractor := grounding.NewExtractor(session, logger)
	executor := actions.NewExecutor(session, cfg.Agent, llm, logger)
	runner := loop.NewRunner(cfg.Agent, llm, extractor, executor, session, st, channel, logger)

	return runner.Run(ctx, task, resume)
}
