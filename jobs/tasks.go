package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeContractExpiryScan sweeps contracts entering the expiry windows.
	TaskTypeContractExpiryScan = "contract:expiry_scan"
	// TaskTypeIdempotencyCleanup prunes import idempotency keys past retention.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewContractExpiryAlertEmail builds the alert mail the nightly scan sends
// when a contract crosses into the critical window.
func NewContractExpiryAlertEmail(to, vendor string, contractID int64, daysRemaining int) SendEmailPayload {
	return SendEmailPayload{
		To:      to,
		Subject: fmt.Sprintf("Contract #%d (%s) expires in %d days", contractID, vendor, daysRemaining),
		Body: fmt.Sprintf(
			"Contract #%d with %s has %d days remaining. Renew or cancel it before the end date to keep engaged amounts accurate.",
			contractID, vendor, daysRemaining),
	}
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with SMTP once a mail provider is picked.
	slog.Info("send email", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

// NewContractExpiryScanTask constructs the nightly scan task.
func NewContractExpiryScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeContractExpiryScan, nil)
}

// NewIdempotencyCleanupTask constructs the maintenance sweep task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}
