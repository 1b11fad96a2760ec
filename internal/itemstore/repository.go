package itemstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/soup/internal/predicate"
	"github.com/onnwee/soup/internal/soup"
	"github.com/onnwee/soup/internal/tracing"
)

// ErrUnknownKind is returned by Put for items that are neither documents nor
// chats.
var ErrUnknownKind = errors.New("unknown item kind")

// Repository implements soup.ItemRepository over PostgreSQL.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRepository creates a repository over an open database.
func NewRepository(db *sql.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

// FetchBySort implements soup.ItemRepository. The predicate is parsed with
// the predicate package and evaluated in SQL.
func (r *Repository) FetchBySort(ctx context.Context, q soup.SortQuery) (items []soup.Item, err error) {
	if q.Limit <= 0 {
		return []soup.Item{}, nil
	}
	expr, err := predicate.Parse(q.Predicate)
	if err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "soup_items", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	stmt, args := sortQuery(q, expr)
	return r.query(ctx, stmt, args)
}

// FetchByIDs implements soup.ItemRepository.
func (r *Repository) FetchByIDs(ctx context.Context, q soup.IDQuery) (items []soup.Item, err error) {
	if len(q.IDs) == 0 {
		return []soup.Item{}, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "soup_items", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	stmt, args := idsQuery(q)
	return r.query(ctx, stmt, args)
}

func (r *Repository) query(ctx context.Context, stmt string, args []any) ([]soup.Item, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []soup.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func scanItem(rows *sql.Rows) (soup.Item, error) {
	var (
		it           soup.Item
		kind         string
		projectID    sql.NullString
		viewedAt     sql.NullTime
		fileType     sql.NullString
		model        sql.NullString
		messageCount sql.NullInt64
	)
	if err := rows.Scan(&kind, &it.ID, &it.OwnerID, &it.Title, &projectID,
		&it.CreatedAt, &it.UpdatedAt, &viewedAt, &fileType, &model, &messageCount); err != nil {
		return soup.Item{}, fmt.Errorf("scan item: %w", err)
	}

	it.Kind = soup.Kind(kind)
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	if projectID.Valid {
		it.ProjectID = &projectID.String
	}
	if viewedAt.Valid {
		v := viewedAt.Time.UTC()
		it.ViewedAt = &v
	}
	switch it.Kind {
	case soup.KindDocument:
		it.Document = &soup.DocumentFields{FileType: fileType.String}
	case soup.KindChat:
		it.Chat = &soup.ChatFields{Model: model.String, MessageCount: int(messageCount.Int64)}
	}
	return it, nil
}

// Put inserts or replaces a document or chat and clears any soft delete.
// Zero timestamps are set to the current time. ViewedAt is ignored; use
// RecordView.
func (r *Repository) Put(ctx context.Context, it soup.Item) (err error) {
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = now
	}

	var (
		table string
		stmt  string
		args  []any
	)
	switch it.Kind {
	case soup.KindDocument:
		var fileType string
		if it.Document != nil {
			fileType = it.Document.FileType
		}
		table = "documents"
		stmt = `
			INSERT INTO documents (id, owner_id, title, project_id, created_at, updated_at, file_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				owner_id = EXCLUDED.owner_id,
				title = EXCLUDED.title,
				project_id = EXCLUDED.project_id,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				file_type = EXCLUDED.file_type,
				deleted_at = NULL`
		args = []any{it.ID, it.OwnerID, it.Title, it.ProjectID, it.CreatedAt, it.UpdatedAt, fileType}
	case soup.KindChat:
		var chat soup.ChatFields
		if it.Chat != nil {
			chat = *it.Chat
		}
		table = "chats"
		stmt = `
			INSERT INTO chats (id, owner_id, title, project_id, created_at, updated_at, model, message_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				owner_id = EXCLUDED.owner_id,
				title = EXCLUDED.title,
				project_id = EXCLUDED.project_id,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				model = EXCLUDED.model,
				message_count = EXCLUDED.message_count,
				deleted_at = NULL`
		args = []any{it.ID, it.OwnerID, it.Title, it.ProjectID, it.CreatedAt, it.UpdatedAt, chat.Model, chat.MessageCount}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, it.Kind)
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	if _, err := r.db.ExecContext(ctx, stmt, args...); err != nil {
		r.logger.ErrorContext(ctx, "failed to upsert item",
			slog.String("error", err.Error()),
			slog.String("item_id", it.ID),
			slog.String("kind", string(it.Kind)))
		return fmt.Errorf("upsert %s %s: %w", it.Kind, it.ID, err)
	}
	return nil
}

// Delete soft-deletes a document or chat. Unknown IDs are ignored.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "soup_items", "delete item",
		`WITH d AS (
			UPDATE documents SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL
		)
		UPDATE chats SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
}

// PutProject inserts or re-parents a project.
func (r *Repository) PutProject(ctx context.Context, id string, parentID *string) error {
	return r.exec(ctx, "projects", "upsert project",
		`INSERT INTO projects (id, parent_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id`, id, parentID)
}

// Grant gives userID direct access to an item or project.
func (r *Repository) Grant(ctx context.Context, userID, entityID string) error {
	return r.exec(ctx, "entity_grants", "grant",
		`INSERT INTO entity_grants (user_id, entity_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, entityID)
}

// Revoke removes a direct grant.
func (r *Repository) Revoke(ctx context.Context, userID, entityID string) error {
	return r.exec(ctx, "entity_grants", "revoke",
		`DELETE FROM entity_grants WHERE user_id = $1 AND entity_id = $2`, userID, entityID)
}

// RecordView records that userID opened entityID at the given time. Older
// views never overwrite newer ones.
func (r *Repository) RecordView(ctx context.Context, userID, entityID string, at time.Time) error {
	return r.exec(ctx, "view_history", "record view",
		`INSERT INTO view_history (user_id, entity_id, viewed_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, entity_id) DO UPDATE
		SET viewed_at = GREATEST(view_history.viewed_at, EXCLUDED.viewed_at)`, userID, entityID, at.UTC())
}

// MarkScored adds entities to the user's frecency index, the set fallback
// pages exclude. Entries are permanent.
func (r *Repository) MarkScored(ctx context.Context, userID string, entityIDs ...string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	return r.exec(ctx, "frecency_index", "mark scored",
		`INSERT INTO frecency_index (user_id, entity_id)
		SELECT $1::text, unnest($2::text[])
		ON CONFLICT DO NOTHING`, userID, pq.Array(entityIDs))
}

func (r *Repository) exec(ctx context.Context, table, op, stmt string, args ...any) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	if _, err = r.db.ExecContext(ctx, stmt, args...); err != nil {
		r.logger.ErrorContext(ctx, "item store write failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
