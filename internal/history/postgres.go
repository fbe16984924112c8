package history

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
	"github.com/tinwren/launchpit/internal/data"
)

// PostgresRunRepo implements RunRepo backed by PostgreSQL.
type PostgresRunRepo struct {
	db *sql.DB
}

// NewPostgresRunRepo constructs a repository using the provided DSN.
func NewPostgresRunRepo(dsn string) (*PostgresRunRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRunRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRunRepoFromEnv constructs a DSN using component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (launchpit),
//	POSTGRES_USER (launchpit), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
//
// Credentials and db name are URL-encoded to handle special characters safely.
func NewPostgresRunRepoFromEnv() (*PostgresRunRepo, error) {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "launchpit")
	user := getenv("POSTGRES_USER", "launchpit")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return NewPostgresRunRepo(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (r *PostgresRunRepo) Close() error { return r.db.Close() }

func (r *PostgresRunRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS runs (
    id UUID PRIMARY KEY,
    game_title TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    stage TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at TIMESTAMPTZ
);
`)
	return err
}

func (r *PostgresRunRepo) List(ctx context.Context) (data.Runs, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,game_title,version,stage,started_at,ended_at FROM runs ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out data.Runs
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *PostgresRunRepo) Get(ctx context.Context, id string) (*data.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id,game_title,version,stage,started_at,ended_at FROM runs WHERE id=$1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (r *PostgresRunRepo) Add(ctx context.Context, run *data.Run) (*data.Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO runs (id,game_title,version,stage,started_at,ended_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		run.ID, run.GameTitle, run.Version, string(run.Stage), run.StartedAt, nullTime(run.EndedAt))
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, run.ID)
}

// Update fetches, mutates and writes back one row under a row lock so
// concurrent writers serialize per run.
func (r *PostgresRunRepo) Update(ctx context.Context, id string, mutate func(*data.Run) error) (*data.Run, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		// Safe rollback when not committed
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT id,game_title,version,stage,started_at,ended_at FROM runs WHERE id=$1 FOR UPDATE`, id)
	cur, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET game_title=$1, version=$2, stage=$3, ended_at=$4 WHERE id=$5`,
		next.GameTitle, next.Version, string(next.Stage), nullTime(next.EndedAt), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// Helpers

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(rs rowScanner) (*data.Run, error) {
	var (
		id, game, version, stage string
		started                  time.Time
		ended                    sql.NullTime
	)
	if err := rs.Scan(&id, &game, &version, &stage, &started, &ended); err != nil {
		return nil, err
	}
	run := &data.Run{
		ID:        id,
		GameTitle: game,
		Version:   version,
		Stage:     data.Stage(stage),
		StartedAt: started,
	}
	if ended.Valid {
		run.EndedAt = ended.Time
	}
	return run, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
