package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
)

// DistributeFunc computes the assignments of a list from the agent roster
// (ids in ascending order) read inside the upload transaction.
type DistributeFunc func(roster []int64) ([]domain.Assignment, error)

// CreateDistributedList persists list and its assignments atomically. The
// roster rows stay share-locked until commit, so agents cannot be removed
// between distribution and insert. Any error from distribute aborts the
// transaction and nothing is written.
func (r *Repository) CreateDistributedList(ctx context.Context, list *domain.List, distribute DistributeFunc) ([]domain.Assignment, error) {
	ctx, cancel := r.transactionContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// roster snapshot used for this distribution
	roster, err := lockRoster(ctx, tx)
	if err != nil {
		return nil, err
	}

	assignments, err := distribute(roster)
	if err != nil {
		return nil, err
	}
	if len(assignments) != len(list.Rows) {
		return nil, fmt.Errorf("distribution produced %d assignments for %d rows", len(assignments), len(list.Rows))
	}

	rowsJSON, err := json.Marshal(list.Rows)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO lists (name, rows, uploaded_by)
		VALUES ($1, $2::jsonb, $3)
		RETURNING id, created_at
	`
	if err := tx.QueryRowContext(ctx, query, list.Name, string(rowsJSON), list.UploadedBy).Scan(&list.ID, &list.CreatedAt); err != nil {
		return nil, err
	}
	list.RowCount = len(list.Rows)

	agentIDs := make([]int64, len(assignments))
	firstNames := make([]string, len(assignments))
	phones := make([]string, len(assignments))
	notes := make([]string, len(assignments))
	for i, a := range assignments {
		agentIDs[i] = a.AgentID
		firstNames[i] = a.Record.FirstName
		phones[i] = a.Record.Phone
		notes[i] = a.Record.Notes
	}

	query = `
		INSERT INTO assignments (list_id, agent_id, first_name, phone, notes, created_at)
		SELECT $1, t.agent_id, t.first_name, t.phone, t.notes, $6
		FROM unnest($2::bigint[], $3::text[], $4::text[], $5::text[])
			WITH ORDINALITY AS t(agent_id, first_name, phone, notes, ord)
		ORDER BY t.ord
	`
	result, err := tx.ExecContext(ctx, query, list.ID, agentIDs, firstNames, phones, notes, list.CreatedAt)
	if err != nil {
		return nil, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if int(inserted) != len(assignments) {
		return nil, fmt.Errorf("inserted %d of %d assignments", inserted, len(assignments))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range assignments {
		assignments[i].ListID = list.ID
		assignments[i].ListName = list.Name
		assignments[i].CreatedAt = list.CreatedAt
	}

	return assignments, nil
}

func lockRoster(ctx context.Context, tx *sql.Tx) ([]int64, error) {
	query := `SELECT id FROM users WHERE role = $1 ORDER BY id FOR SHARE`

	rows, err := tx.QueryContext(ctx, query, domain.RoleAgent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roster := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roster = append(roster, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return roster, nil
}

// GetAllLists returns list summaries, newest first. Rows are not loaded.
func (r *Repository) GetAllLists(ctx context.Context) ([]*domain.List, error) {
	query := `
		SELECT
			l.id,
			l.name,
			jsonb_array_length(l.rows),
			l.uploaded_by,
			u.name,
			u.email,
			l.created_at
		FROM lists l
		LEFT JOIN users u ON u.id = l.uploaded_by
		ORDER BY l.created_at DESC, l.id DESC
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lists := []*domain.List{}
	for rows.Next() {
		var list domain.List
		var uploaderName, uploaderEmail sql.NullString
		dst := []any{
			&list.ID,
			&list.Name,
			&list.RowCount,
			&list.UploadedBy,
			&uploaderName,
			&uploaderEmail,
			&list.CreatedAt,
		}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		if uploaderName.Valid {
			list.Uploader = &domain.Uploader{Name: uploaderName.String, Email: uploaderEmail.String}
		}
		lists = append(lists, &list)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lists, nil
}

func (r *Repository) GetListByID(ctx context.Context, id int64) (*domain.List, error) {
	query := `
		SELECT
			l.name,
			l.rows,
			l.uploaded_by,
			u.name,
			u.email,
			l.created_at
		FROM lists l
		LEFT JOIN users u ON u.id = l.uploaded_by
		WHERE l.id = $1
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	list := &domain.List{
		ID: id,
	}
	var rowsJSON []byte
	var uploaderName, uploaderEmail sql.NullString

	dst := []any{&list.Name, &rowsJSON, &list.UploadedBy, &uploaderName, &uploaderEmail, &list.CreatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(dst...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rowsJSON, &list.Rows); err != nil {
		return nil, err
	}
	list.RowCount = len(list.Rows)
	if uploaderName.Valid {
		list.Uploader = &domain.Uploader{Name: uploaderName.String, Email: uploaderEmail.String}
	}

	return list, nil
}

// DeleteList removes a list together with all of its assignments.
func (r *Repository) DeleteList(ctx context.Context, id int64) error {
	ctx, cancel := r.transactionContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE list_id = $1`, id); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return tx.Commit()
}
