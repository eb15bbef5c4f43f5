package repository

import (
	"context"
	"database/sql"

	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
)

// GetAssignmentsByAgent returns every assignment of agentID with the parent
// list name, newest list first and source order within a list.
func (r *Repository) GetAssignmentsByAgent(ctx context.Context, agentID int64) ([]*domain.Assignment, error) {
	query := `
		SELECT a.id, a.list_id, l.name, a.agent_id, a.first_name, a.phone, a.notes, a.created_at
		FROM assignments a
		JOIN lists l ON l.id = a.list_id
		WHERE a.agent_id = $1
		ORDER BY a.created_at DESC, a.id
	`

	return r.queryAssignments(ctx, query, agentID)
}

// GetAssignmentsByList returns the assignments of listID in source order,
// restricted to agentID when it is not nil.
func (r *Repository) GetAssignmentsByList(ctx context.Context, listID int64, agentID *int64) ([]*domain.Assignment, error) {
	query := `
		SELECT a.id, a.list_id, l.name, a.agent_id, a.first_name, a.phone, a.notes, a.created_at
		FROM assignments a
		JOIN lists l ON l.id = a.list_id
		WHERE a.list_id = $1 AND ($2::bigint IS NULL OR a.agent_id = $2)
		ORDER BY a.id
	`

	var agent sql.NullInt64
	if agentID != nil {
		agent = sql.NullInt64{Int64: *agentID, Valid: true}
	}

	return r.queryAssignments(ctx, query, listID, agent)
}

func (r *Repository) queryAssignments(ctx context.Context, query string, args ...any) ([]*domain.Assignment, error) {
	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assignments := make([]*domain.Assignment, 0)
	for rows.Next() {
		a := &domain.Assignment{}
		dst := []any{&a.ID, &a.ListID, &a.ListName, &a.AgentID, &a.Record.FirstName, &a.Record.Phone, &a.Record.Notes, &a.CreatedAt}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return assignments, nil
}
