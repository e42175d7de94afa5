package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMaintenance holds periodic housekeeping tasks.
	QueueMaintenance = "maintenance"
	// TaskPurgeRefreshTokens deletes expired refresh-token rows.
	TaskPurgeRefreshTokens = "identity:purge_refresh_tokens"
)

// PurgeRefreshTokensPayload configures one purge run. Grace keeps tokens that
// expired less than Grace ago.
type PurgeRefreshTokensPayload struct {
	Grace time.Duration `json:"grace"`
}

// NewPurgeRefreshTokensTask constructs the purge task.
func NewPurgeRefreshTokensTask(grace time.Duration) (*asynq.Task, error) {
	if grace < 0 {
		return nil, fmt.Errorf("jobs: negative purge grace %s", grace)
	}
	data, err := json.Marshal(PurgeRefreshTokensPayload{Grace: grace})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurgeRefreshTokens, data, asynq.Queue(QueueMaintenance), asynq.Timeout(5*time.Minute)), nil
}
