package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Recorder appends audit entries. Record runs on the caller's transaction so
// the entry commits or rolls back together with the business write.
type Recorder struct{}

// NewRecorder returns a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record inserts the entry on tx.
func (rec *Recorder) Record(ctx context.Context, tx pgx.Tx, e Entry) error {
	if e.Action == "" || e.Entity == "" || e.EntityID == 0 {
		return errors.New("audit entry requires action/entity/entity_id")
	}
	if e.OrgID == 0 {
		return errors.New("audit entry requires org")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	beforeJSON, err := json.Marshal(e.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(e.After)
	if err != nil {
		return err
	}
	var occurredAt any
	if !e.OccurredAt.IsZero() {
		occurredAt = e.OccurredAt
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entries (id, org_id, actor_id, action, entity, entity_id, before, after, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		e.ID, e.OrgID, e.ActorID, e.Action, e.Entity, e.EntityID, beforeJSON, afterJSON, occurredAt)
	return err
}
