package catalog

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore reads packs from the packs table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed pack store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const packColumns = `id, name, slug, price, description, content, image, created_at`

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Pack, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+packColumns+` FROM packs WHERE id = $1`, id)
	pack, err := scanPack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPackNotFound
	}
	return pack, err
}

func (p *PostgresStore) List(ctx context.Context) ([]*Pack, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+packColumns+` FROM packs ORDER BY price ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Pack
	for rows.Next() {
		pack, err := scanPack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pack)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPack(s scanner) (*Pack, error) {
	p := &Pack{}
	if err := s.Scan(&p.ID, &p.Name, &p.Slug, &p.Price, &p.Description, &p.Content, &p.Image, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

var _ Store = (*PostgresStore)(nil)
