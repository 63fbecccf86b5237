package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ledgermatch/ledgermatch/internal/audit"
)

type chainVerifier interface {
	VerifyAuditChain(ctx context.Context) (audit.VerifyResult, error)
}

// ChainVerifyJob runs scheduled verification of the audit hash chain.
// A broken chain is logged at error level; the service halts its own
// write paths once it has seen the failure.
type ChainVerifyJob struct {
	verifier chainVerifier
	logger   *slog.Logger
}

// NewChainVerifyJob constructs the job.
func NewChainVerifyJob(verifier chainVerifier, logger *slog.Logger) *ChainVerifyJob {
	return &ChainVerifyJob{verifier: verifier, logger: logger}
}

// Handle processes TaskChainVerify tasks.
func (j *ChainVerifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ChainVerifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	result, err := j.verifier.VerifyAuditChain(ctx)
	if err != nil {
		j.logger.Error("chain verification errored", slog.Any("error", err))
		return err
	}
	if !result.Valid {
		brokenAt := int64(0)
		if result.BrokenAt != nil {
			brokenAt = *result.BrokenAt
		}
		j.logger.Error("audit chain broken",
			slog.String("trigger", payload.Trigger),
			slog.Int64("broken_at", brokenAt),
			slog.Int("checked", result.Checked))
		// Not retryable: re-walking a tampered chain cannot fix it.
		return asynq.SkipRetry
	}
	j.logger.Info("audit chain verified",
		slog.String("trigger", payload.Trigger),
		slog.Int("checked", result.Checked))
	return nil
}
