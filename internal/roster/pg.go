// Package roster resolves users, roles, supervisors, and branch assignments
// for the workflow engine.
package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nubegest/approvals/model"
)

// PgRoster is a PostgreSQL-backed roster using pgx/v5.
type PgRoster struct {
	pool *pgxpool.Pool
}

// NewPgRoster creates a new PostgreSQL roster.
func NewPgRoster(pool *pgxpool.Pool) *PgRoster {
	return &PgRoster{pool: pool}
}

// UsersByRole returns the active users holding a role code within an
// organization.
func (r *PgRoster) UsersByRole(ctx context.Context, orgID, roleCode string) ([]model.Approver, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.name, u.email
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id AND ur.org_id = u.org_id
		WHERE u.org_id = $1 AND ur.role_code = $2 AND u.active
		ORDER BY u.id ASC`,
		orgID, roleCode,
	)
	if err != nil {
		return nil, fmt.Errorf("query users by role: %w", err)
	}
	defer rows.Close()

	var approvers []model.Approver
	for rows.Next() {
		var a model.Approver
		if err := rows.Scan(&a.ID, &a.Name, &a.Email); err != nil {
			return nil, fmt.Errorf("scan approver: %w", err)
		}
		approvers = append(approvers, a)
	}
	return approvers, rows.Err()
}

// SupervisorOf returns the direct supervisor of a user, or nil when the user
// has no supervisor or the supervisor is inactive.
func (r *PgRoster) SupervisorOf(ctx context.Context, orgID, userID string) (*model.Approver, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT s.id, s.name, s.email
		FROM users u
		JOIN users s ON s.id = u.supervisor_id AND s.org_id = u.org_id
		WHERE u.org_id = $1 AND u.id = $2 AND s.active`,
		orgID, userID,
	)

	var sup model.Approver
	err := row.Scan(&sup.ID, &sup.Name, &sup.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query supervisor: %w", err)
	}
	return &sup, nil
}

// BranchAssignments returns the user's branch assignments, manager-flagged
// assignments first.
func (r *PgRoster) BranchAssignments(ctx context.Context, orgID, userID string) ([]model.BranchAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT branch_id, is_manager, active
		FROM branch_assignments
		WHERE org_id = $1 AND user_id = $2
		ORDER BY is_manager DESC, branch_id ASC`,
		orgID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query branch assignments: %w", err)
	}
	defer rows.Close()

	var assignments []model.BranchAssignment
	for rows.Next() {
		var a model.BranchAssignment
		if err := rows.Scan(&a.BranchID, &a.IsManager, &a.Active); err != nil {
			return nil, fmt.Errorf("scan branch assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
