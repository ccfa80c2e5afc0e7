package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"smsrag/internal/domain"
	"smsrag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
    name TEXT PRIMARY KEY,
    dimension INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    content TEXT NOT NULL,
    meta TEXT,
    embedding BLOB,
    PRIMARY KEY (collection, id)
);
`

// Config selects the database file and collection.
type Config struct {
	// Path is a file path or ":memory:".
	Path       string
	Collection string
	// Dimension fixes the collection's dimensionality for a new collection;
	// 0 lets the first added document decide.
	Dimension int
}

// Storage is a durable vector store on the pure-Go SQLite driver. Distances
// are computed in SQL by the vec_l2sq scalar function.
type Storage struct {
	db         *sql.DB
	collection string
	logger     arbor.ILogger

	mu        sync.RWMutex
	dimension int
}

// Open connects to the database and resolves the collection: it is loaded
// when present and created when absent.
func Open(ctx context.Context, cfg Config, logger arbor.ILogger) (*Storage, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("sqlite: register functions: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}

	s := &Storage{db: db, collection: cfg.Collection, logger: logger}
	if err := s.resolveCollection(ctx, cfg.Dimension); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) resolveCollection(ctx context.Context, dimension int) error {
	var stored int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, s.collection).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, `INSERT INTO collections(name, dimension) VALUES(?, ?)`, s.collection, dimension); err != nil {
			return fmt.Errorf("sqlite: create collection: %w", err)
		}
		s.dimension = dimension
		s.logger.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("Created collection")
		return nil
	case err != nil:
		return fmt.Errorf("sqlite: load collection: %w", err)
	}
	if stored != 0 && dimension != 0 && stored != dimension {
		return fmt.Errorf("sqlite: collection %q: %w: stored %d, configured %d", s.collection, vectorstore.ErrDimensionMismatch, stored, dimension)
	}
	if stored == 0 && dimension != 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, dimension, s.collection); err != nil {
			return fmt.Errorf("sqlite: update collection: %w", err)
		}
		stored = dimension
	}
	s.dimension = stored
	s.logger.Info().Str("collection", s.collection).Int("dimension", stored).Msg("Loaded collection")
	return nil
}

func (s *Storage) Name() string { return "sqlite" }

func (s *Storage) Add(ctx context.Context, rec vectorstore.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dimension := s.dimension
	if dimension != 0 && len(rec.Embedding) != dimension {
		return fmt.Errorf("%w: got %d, collection has %d", vectorstore.ErrDimensionMismatch, len(rec.Embedding), dimension)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE collection = ? AND id = ?`, s.collection, rec.ID).Scan(&exists)
	if err == nil {
		return vectorstore.ErrDuplicateID
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if dimension == 0 {
		dimension = len(rec.Embedding)
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, dimension, s.collection); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents(collection, id, content, meta, embedding) VALUES(?, ?, ?, ?, ?)`,
		s.collection, rec.ID, rec.Content, string(meta), encodeEmbedding(rec.Embedding)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Query(ctx context.Context, vector []float32, k int) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	dimension := s.dimension
	s.mu.RUnlock()
	if dimension == 0 {
		return nil, nil
	}
	if len(vector) != dimension {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", vectorstore.ErrDimensionMismatch, len(vector), dimension)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, content, meta, vec_l2sq(embedding, ?) AS distance
FROM documents
WHERE collection = ?
ORDER BY distance ASC, id ASC
LIMIT ?`, encodeEmbedding(vector), s.collection, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []domain.Hit
	for rows.Next() {
		var (
			h    domain.Hit
			meta sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.Content, &meta, &h.Distance); err != nil {
			return nil, err
		}
		h.Metadata = map[string]any{}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &h.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %q: %w", h.ID, err)
			}
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, s.collection, id)
	return err
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, s.collection).Scan(&n)
	return n, err
}

func (s *Storage) Close() error { return s.db.Close() }
