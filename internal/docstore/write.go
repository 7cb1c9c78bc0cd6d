package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/shelfshare/internal/domain"
)

// Commit applies ops as one atomic batch: all succeed or none are applied.
//
// Ops are applied in order against the state left by the previous ops, so a
// later op sees an earlier op's write. Every op that changes a document
// appends a change record in the same transaction. Writes that would leave
// the document byte-identical are skipped and produce no change record.
//
// Errors: ErrConflict (a precondition failed), ErrExists (Create on an
// existing document), ErrNotFound (Update on a missing document), or a
// backend error.
func (s *Store) Commit(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	for i, op := range ops {
		if err := op.validate(); err != nil {
			return fmt.Errorf("commit: op %d: %w", i, err)
		}
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("commit: begin tx: %w", translateErr(err))
	}
	defer tx.Rollback() // No-op if committed

	now := s.clock.Now().UnixNano()
	changed := 0
	for i, op := range ops {
		c, err := s.apply(ctx, tx, op, now)
		if err != nil {
			return fmt.Errorf("commit: op %d (%s %s/%s): %w", i, op.Kind, op.Collection, op.ID, translateErr(err))
		}
		if c {
			changed++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translateErr(err))
	}

	slog.Debug("batch committed", "ops", len(ops), "changes", changed)
	if changed > 0 {
		s.fireHooks()
	}
	return nil
}

// apply runs one op inside tx and reports whether it changed a document.
func (s *Store) apply(ctx context.Context, tx *sql.Tx, op Op, now int64) (bool, error) {
	cur, err := s.get(ctx, tx, op.Collection, op.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	if op.Precondition != nil {
		want := *op.Precondition
		switch {
		case want == 0 && exists:
			return false, fmt.Errorf("%w: exists at version %d", ErrConflict, cur.Version)
		case want != 0 && !exists:
			return false, fmt.Errorf("%w: expected version %d, document is gone", ErrConflict, want)
		case want != 0 && cur.Version != want:
			return false, fmt.Errorf("%w: expected version %d, found %d", ErrConflict, want, cur.Version)
		}
	}

	switch op.Kind {
	case OpCheck:
		return false, nil

	case OpCreate:
		if exists {
			return false, ErrExists
		}
		return true, s.insertDoc(ctx, tx, op.Collection, op.ID, normalize(op.Data), now)

	case OpSet:
		after := normalize(op.Data)
		if !exists {
			return true, s.insertDoc(ctx, tx, op.Collection, op.ID, after, now)
		}
		return s.replaceDoc(ctx, tx, cur, after, now)

	case OpUpdate:
		if !exists {
			return false, ErrNotFound
		}
		after, err := merge(cur.Data, op.Fields)
		if err != nil {
			return false, err
		}
		return s.replaceDoc(ctx, tx, cur, after, now)

	case OpDelete:
		if !exists {
			return false, nil
		}
		if _, err := s.appendChange(ctx, tx, ChangeDelete, op.Collection, op.ID, cur, nil, now); err != nil {
			return false, err
		}
		res, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM documents WHERE collection = ? AND id = ? AND version = ?
		`), op.Collection, op.ID, cur.Version)
		if err != nil {
			return false, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, ErrConflict
		}
		return true, nil
	}
	return false, fmt.Errorf("unknown op kind %q", op.Kind)
}

func (s *Store) insertDoc(ctx context.Context, tx *sql.Tx, collection, id string, data []byte, now int64) error {
	seq, err := s.appendChange(ctx, tx, ChangeCreate, collection, id, nil, data, now)
	if err != nil {
		return err
	}
	// ON CONFLICT DO NOTHING + RowsAffected: a concurrent creator loses
	// cleanly instead of surfacing a constraint error.
	res, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO documents (collection, id, data, version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO NOTHING
	`), collection, id, string(data), seq)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

func (s *Store) replaceDoc(ctx context.Context, tx *sql.Tx, cur *Doc, after []byte, now int64) (bool, error) {
	if bytes.Equal(normalize(cur.Data), after) {
		return false, nil
	}
	seq, err := s.appendChange(ctx, tx, ChangeUpdate, cur.Collection, cur.ID, cur, after, now)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE documents SET data = ?, version = ?
		WHERE collection = ? AND id = ? AND version = ?
	`), string(after), seq, cur.Collection, cur.ID, cur.Version)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrConflict
	}
	return true, nil
}

// appendChange writes the outbox row and returns its sequence number, which
// becomes the new document version.
func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, kind ChangeKind, collection, id string, before *Doc, after []byte, now int64) (int64, error) {
	var (
		beforeData    any
		beforeVersion int64
		afterData     any
	)
	if before != nil {
		beforeData = string(normalize(before.Data))
		beforeVersion = before.Version
	}
	if after != nil {
		afterData = string(after)
	}

	var seq int64
	err := tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO changes (collection, doc_id, kind, before_data, before_version, after_data, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`), collection, id, string(kind), beforeData, beforeVersion, afterData, now).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return seq, nil
}

// normalize returns the canonical form of a JSON document so equal content
// compares byte-equal regardless of backend formatting. Documents that cannot
// be canonicalized (fractional numbers) are compacted instead.
func normalize(data []byte) []byte {
	if c, err := domain.CanonicalizeJSON(data); err == nil {
		return c
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return data
	}
	return buf.Bytes()
}

// merge overlays fields on the top level of a stored document.
func merge(data []byte, fields map[string]any) ([]byte, error) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("merge: decode: %w", err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	for k, v := range fields {
		if _, ok := v.(deleteField); ok {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("merge: encode: %w", err)
	}
	return normalize(out), nil
}
