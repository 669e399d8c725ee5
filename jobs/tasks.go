package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskClaimsSync is the task type for bulk claims reconciliation.
	TaskClaimsSync = "authz:claims_sync"
)

// ClaimsSyncPayload parameterises a claims reconciliation sweep.
type ClaimsSyncPayload struct {
	// PageToken resumes a sweep from a page boundary; empty starts over.
	PageToken string `json:"page_token,omitempty"`
}

// NewClaimsSyncTask constructs an Asynq task for a full reconciliation run.
func NewClaimsSyncTask(payload ClaimsSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClaimsSync, data), nil
}
