package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/budgeo/budgeo/internal/jobs"
	"github.com/budgeo/budgeo/internal/ledger"
)

// MailEnqueuer submits alert mails to the queue. The Client in this package
// satisfies it.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// ExpiryScanner sweeps every organization's contracts and flags the ones
// entering the expiring or critical window. Critical contracts additionally
// trigger an alert mail when a recipient is configured.
type ExpiryScanner struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	mailer      MailEnqueuer
	alertsEmail string
}

// NewExpiryScanner constructs the scanner. mailer may be nil to disable
// alert mails.
func NewExpiryScanner(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics, mailer MailEnqueuer, alertsEmail string) *ExpiryScanner {
	return &ExpiryScanner{pool: pool, logger: logger, metrics: metrics, mailer: mailer, alertsEmail: alertsEmail}
}

// Handler adapts the scanner to an Asynq handler.
func (s *ExpiryScanner) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := s.metrics.Track("contract_expiry_scan")
		return tracker.End(s.Run(ctx))
	}
}

type expiringContract struct {
	id      int64
	orgID   int64
	vendor  string
	endDate time.Time
}

// Run performs one sweep. Contracts already expired are skipped; they were
// flagged while still inside the window.
func (s *ExpiryScanner) Run(ctx context.Context) error {
	now := time.Now()
	horizon := now.AddDate(0, 0, ledger.ExpiringWindowDays)
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, vendor, end_date FROM contracts
		WHERE end_date >= $1 AND end_date <= $2
		ORDER BY org_id, end_date`, now, horizon)
	if err != nil {
		return err
	}
	defer rows.Close()

	var scanned, critical int
	for rows.Next() {
		var c expiringContract
		if err := rows.Scan(&c.id, &c.orgID, &c.vendor, &c.endDate); err != nil {
			return err
		}
		scanned++
		severity := "expiring"
		if ledger.IsCritical(c.endDate, now) {
			severity = "critical"
			critical++
			if s.mailer != nil && s.alertsEmail != "" {
				payload := NewContractExpiryAlertEmail(s.alertsEmail, c.vendor, c.id, ledger.DaysRemaining(c.endDate, now))
				if _, err := s.mailer.EnqueueSendEmail(ctx, payload); err != nil {
					s.logger.Warn("enqueue expiry alert", slog.Int64("contract_id", c.id), slog.Any("error", err))
				}
			}
		}
		s.metrics.AddExpiryAlerts(severity, c.orgID, 1)
		s.logger.Info("contract entering expiry window",
			slog.Int64("contract_id", c.id),
			slog.Int64("org_id", c.orgID),
			slog.String("vendor", c.vendor),
			slog.String("severity", severity),
			slog.Int("days_remaining", ledger.DaysRemaining(c.endDate, now)))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.logger.Info("contract expiry scan finished",
		slog.Int("scanned", scanned),
		slog.Int("critical", critical))
	return nil
}
