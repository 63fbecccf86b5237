package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskChainVerify walks the audit hash chain and reports tampering.
	TaskChainVerify = "audit:chain_verify"
)

// ChainVerifyPayload parameterises a chain verification run.
type ChainVerifyPayload struct {
	Trigger string `json:"trigger"`
}

// NewChainVerifyTask constructs an Asynq task for a full chain walk.
func NewChainVerifyTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(ChainVerifyPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskChainVerify, data), nil
}
