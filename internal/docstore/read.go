package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Get returns the document at collection/id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (*Doc, error) {
	return s.get(ctx, s.db, collection, id)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryer, collection, id string) (*Doc, error) {
	var (
		data    string
		version int64
	)
	err := q.QueryRowContext(ctx, s.rebind(`
		SELECT data, version FROM documents
		WHERE collection = ? AND id = ?
	`), collection, id).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return &Doc{Collection: collection, ID: id, Data: []byte(data), Version: version}, nil
}

// Query returns documents matching q, ordered by q.OrderBy then id.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Query(ctx context.Context, q Query) ([]Doc, error) {
	return s.query(ctx, s.db, q)
}

func (s *Store) query(ctx context.Context, qr queryer, q Query) ([]Doc, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	var (
		sb   strings.Builder
		args = []any{q.Collection}
	)
	sb.WriteString("SELECT id, data, version FROM documents WHERE collection = ?")
	for _, f := range q.Filters {
		sb.WriteString(" AND ")
		sb.WriteString(s.jsonField(f.Field))
		sb.WriteString(" = ?")
		args = append(args, f.Value)
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	sb.WriteString(" ORDER BY ")
	if q.OrderBy != "" {
		sb.WriteString(s.jsonField(q.OrderBy) + " " + dir + ", ")
	}
	sb.WriteString("id " + dir)
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := qr.QueryContext(ctx, s.rebind(sb.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := []Doc{}
	for rows.Next() {
		d := Doc{Collection: q.Collection}
		var data string
		if err := rows.Scan(&d.ID, &data, &d.Version); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		d.Data = []byte(data)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Collection, err)
	}
	return docs, nil
}

// Dump returns every document in the given collections (all collections when
// none are named), ordered by collection then id.
func (s *Store) Dump(ctx context.Context, collections ...string) ([]Doc, error) {
	query := "SELECT collection, id, data, version FROM documents"
	var args []any
	if len(collections) > 0 {
		query += " WHERE collection IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(collections)), ", ") + ")"
		for _, c := range collections {
			args = append(args, c)
		}
	}
	query += " ORDER BY collection ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	defer rows.Close()

	docs := []Doc{}
	for rows.Next() {
		var (
			d    Doc
			data string
		)
		if err := rows.Scan(&d.Collection, &d.ID, &data, &d.Version); err != nil {
			return nil, fmt.Errorf("dump: scan: %w", err)
		}
		d.Data = []byte(data)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dump: iterate: %w", err)
	}
	return docs, nil
}
