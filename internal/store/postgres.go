package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trialkey-service/internal/model"
	"github.com/trialkey-service/migrations"
)

// Postgres keeps the whole database as a single JSONB document row. The
// Store mutex still provides the serialization point; this backend only
// replaces the file as the durable medium.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Init(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO key_database (id, doc) VALUES (1, '{"keys":{}}'::jsonb)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("init key_database: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context) (*model.KeyDatabase, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM key_database WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewKeyDatabase(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select key_database: %w", err)
	}

	db := model.NewKeyDatabase()
	if err := json.Unmarshal(doc, db); err != nil {
		return nil, fmt.Errorf("decode key_database: %w", err)
	}
	if db.Keys == nil {
		db.Keys = make(map[string]*model.KeyRecord)
	}
	for k, rec := range db.Keys {
		if rec == nil {
			delete(db.Keys, k)
		}
	}
	return db, nil
}

func (p *Postgres) Save(ctx context.Context, db *model.KeyDatabase) error {
	doc, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("encode key_database: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO key_database (id, doc, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, doc)
	if err != nil {
		return fmt.Errorf("upsert key_database: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema migrations to databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
