package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx, so entries can be
// written inside the transaction of the mutation they describe.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder writes entries into permission_audit_log.
type Recorder struct{}

// NewRecorder returns a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record persists the entry using the given executor.
func (r *Recorder) Record(ctx context.Context, q Execer, e Entry) error {
	if r == nil {
		return errors.New("audit recorder not initialised")
	}
	if !e.Action.Valid() {
		return errors.New("audit entry requires a known action")
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO permission_audit_log (action, actor_id, target_user_id, permission_id, role_id, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		string(e.Action), e.ActorID, e.TargetUserID, e.PermissionID, e.RoleID, detailsJSON)
	return err
}
