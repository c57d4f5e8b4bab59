package store

import (
	"context"
	"errors"
	"time"

	"PPLink/module/pairing/model"
	"PPLink/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS pairing_challenge (
    id                  TEXT PRIMARY KEY,
    token               TEXT NOT NULL UNIQUE,
    state               TEXT NOT NULL,
    authorizing_user_id TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL,
    expires_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pairing_challenge_expires_at ON pairing_challenge (expires_at);
`

const pgColumns = `id, token, state, authorizing_user_id, created_at, expires_at, updated_at`

// Postgres stores challenges in a single table; the CAS is one conditional
// UPDATE ... RETURNING.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, pgSchema); err != nil {
		return errs.WrapMsg(err, "migrate pairing_challenge")
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, c *model.Challenge) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO pairing_challenge (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Token, string(c.State), c.AuthorizingUserID, c.CreatedAt, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errs.ErrArgs.WrapMsg("duplicate challenge", "id", c.ID)
		}
		return transient(err, "insert challenge")
	}
	return nil
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*model.Challenge, error) {
	return p.queryOne(ctx, `SELECT `+pgColumns+` FROM pairing_challenge WHERE id = $1`, id)
}

func (p *Postgres) GetByToken(ctx context.Context, token string) (*model.Challenge, error) {
	return p.queryOne(ctx, `SELECT `+pgColumns+` FROM pairing_challenge WHERE token = $1`, token)
}

func (p *Postgres) queryOne(ctx context.Context, sql string, args ...any) (*model.Challenge, error) {
	c, err := scanChallenge(p.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound()
		}
		return nil, transient(err, "select challenge")
	}
	return c, nil
}

func (p *Postgres) CompareAndSwap(ctx context.Context, id string, from, to model.State, userID string, now time.Time) (*model.Challenge, error) {
	row := p.pool.QueryRow(ctx, `
UPDATE pairing_challenge
   SET state = $3,
       authorizing_user_id = CASE WHEN $4 = '' THEN authorizing_user_id ELSE $4 END,
       updated_at = $5
 WHERE id = $1 AND state = $2 AND expires_at > $5
RETURNING `+pgColumns, id, string(from), string(to), userID, now)

	c, err := scanChallenge(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, transient(err, "cas challenge")
	}
	cur, gerr := p.GetByID(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if cur.Expired(now) {
		return nil, notFound("id", id)
	}
	return nil, stateMismatch(id, from, cur.State)
}

func (p *Postgres) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM pairing_challenge WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, transient(err, "purge challenges")
	}
	return tag.RowsAffected(), nil
}

func scanChallenge(row pgx.Row) (*model.Challenge, error) {
	var (
		c     model.Challenge
		state string
	)
	if err := row.Scan(&c.ID, &c.Token, &state, &c.AuthorizingUserID, &c.CreatedAt, &c.ExpiresAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.State = model.State(state)
	return &c, nil
}
