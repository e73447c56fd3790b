package secrets

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps secrets in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at dbPath, enables WAL and runs
// the embedded migrations.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("secrets: db path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("secrets: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("secrets: enable WAL: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("secrets: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("secrets: migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("secrets: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Store ---

func (s *SQLiteStore) Save(ctx context.Context, sec Secret) error {
	if err := sec.validate(); err != nil {
		return err
	}
	return s.insert(ctx, s.db, Key(sec.GameID, sec.Role), sec)
}

func (s *SQLiteStore) Load(ctx context.Context, gameID uint64, role Role) (Secret, error) {
	return s.get(ctx, s.db, Key(gameID, role))
}

func (s *SQLiteStore) Clear(ctx context.Context, gameID uint64, role Role) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, Key(gameID, role)); err != nil {
		return fmt.Errorf("secrets: clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SavePending(ctx context.Context, sec Secret) error {
	if err := sec.validate(); err != nil {
		return err
	}
	sec.GameID = 0
	sec.Role = RoleCreator
	return s.insert(ctx, s.db, pendingKey(sec.Commitment), sec)
}

func (s *SQLiteStore) Promote(ctx context.Context, c *felt.Felt, gameID uint64) (Secret, error) {
	if c == nil {
		return Secret{}, fmt.Errorf("secrets: promote: commitment is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: begin: %w", err)
	}
	defer tx.Rollback()

	from := pendingKey(c)
	sec, err := s.get(ctx, tx, from)
	if err != nil {
		return Secret{}, err
	}
	sec.GameID = gameID
	if err := s.insert(ctx, tx, Key(gameID, RoleCreator), sec); err != nil {
		return Secret{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, from); err != nil {
		return Secret{}, fmt.Errorf("secrets: drop pending: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Secret{}, fmt.Errorf("secrets: commit promote: %w", err)
	}
	return sec, nil
}

// List returns every stored record, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Secret, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM secrets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("secrets: list: %w", err)
	}
	defer rows.Close()

	var out []Secret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("secrets: iterate: %w", err)
	}
	return out, nil
}

// --- Rows ---

const columns = `key, game_id, role, lat, lng, lat_encoded, lng_encoded, salt, commitment, checksum, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) insert(ctx context.Context, db execer, key string, sec Secret) error {
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO secrets (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, int64(sec.GameID), string(sec.Role),
		sec.Location.Lat, sec.Location.Lng,
		int64(sec.Encoded.Lat), int64(sec.Encoded.Lng),
		sec.Salt.String(), sec.Commitment.String(),
		sec.checksum(key), sec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("secrets: save %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("secrets: save %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("secrets: save %s: %w", key, game.ErrSecretExists)
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, db execer, key string) (Secret, error) {
	row := db.QueryRowContext(ctx, `SELECT `+columns+` FROM secrets WHERE key = ?`, key)
	sec, err := scanSecret(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Secret{}, fmt.Errorf("secrets: load %s: %w", key, game.ErrSecretNotFound)
	}
	return sec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSecret(row scanner) (Secret, error) {
	var (
		sec              Secret
		key, role        string
		gameID           int64
		latEnc, lngEnc   int64
		salt, commitment string
		sum              []byte
	)
	err := row.Scan(&key, &gameID, &role, &sec.Location.Lat, &sec.Location.Lng,
		&latEnc, &lngEnc, &salt, &commitment, &sum, &sec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Secret{}, err
		}
		return Secret{}, fmt.Errorf("secrets: scan: %w", err)
	}
	sec.GameID = uint64(gameID)
	sec.Role = Role(role)
	sec.Encoded = geo.Fixed{Lat: uint64(latEnc), Lng: uint64(lngEnc)}
	if sec.Salt, err = wire.ParseFelt(salt); err != nil {
		return Secret{}, fmt.Errorf("%w: salt: %v", ErrCorrupt, err)
	}
	if sec.Commitment, err = wire.ParseFelt(commitment); err != nil {
		return Secret{}, fmt.Errorf("%w: commitment: %v", ErrCorrupt, err)
	}
	if err := sec.verify(key, sum); err != nil {
		return Secret{}, err
	}
	return sec, nil
}
