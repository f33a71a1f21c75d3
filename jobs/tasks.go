// Package jobs contains the background task definitions and the Asynq worker
// that runs them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionsPrune sweeps expired session records from postgres.
	TaskSessionsPrune = "sessions:prune"
)

// SessionsPrunePayload bounds a prune sweep. A zero Before means "now".
type SessionsPrunePayload struct {
	Before time.Time `json:"before,omitempty"`
}

// NewSessionsPruneTask constructs an Asynq task.
func NewSessionsPruneTask(payload SessionsPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsPrune, data), nil
}

// SessionsPruneJob removes expired session records. The Redis copies of these
// sessions expire on their own TTL; only the durable rows need sweeping.
type SessionsPruneJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	clock  func() time.Time
}

// NewSessionsPruneJob initialises the prune handler.
func NewSessionsPruneJob(pool *pgxpool.Pool, logger *slog.Logger) *SessionsPruneJob {
	return &SessionsPruneJob{
		Pool:   pool,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the prune sweep.
func (j *SessionsPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("sessions prune: handler not configured")
	}
	var payload SessionsPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	before := payload.Before
	if before.IsZero() {
		before = j.clock()
	}

	tag, err := j.Pool.Exec(ctx, `DELETE FROM account_sessions WHERE expires_at < $1`, before)
	if err != nil {
		j.Logger.Error("sessions prune failed", slog.Any("error", err))
		return err
	}
	j.Logger.Info("sessions pruned", slog.Int64("removed", tag.RowsAffected()))
	return nil
}
