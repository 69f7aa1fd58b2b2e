package deliverynote

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq" // require for Open postgres
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // require for Open sqlite
)

var _ WatermarkStore = (*SQLWatermarkStore)(nil)

// SQLWatermarkStore keeps watermarks in a "watermarks" table.  Dates are
// stored as YYYY-MM-DD text so string order is date order.
type SQLWatermarkStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	upsert string
}

const watermarkSchema = `
CREATE TABLE IF NOT EXISTS watermarks (
	vendor TEXT PRIMARY KEY,
	last_date TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`

const selectWatermarks = `SELECT vendor, last_date FROM watermarks`

// The WHERE clause keeps watermarks from moving backwards.
const (
	sqliteUpsert = `INSERT INTO watermarks (vendor, last_date, updated_at) VALUES (?, ?, ?)
ON CONFLICT (vendor) DO UPDATE SET last_date = excluded.last_date, updated_at = excluded.updated_at
WHERE excluded.last_date > watermarks.last_date`
	postgresUpsert = `INSERT INTO watermarks (vendor, last_date, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (vendor) DO UPDATE SET last_date = EXCLUDED.last_date, updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.last_date > watermarks.last_date`
)

// OpenSQLiteWatermarkStore opens or creates the SQLite database at path.
func OpenSQLiteWatermarkStore(path string, logger *zap.SugaredLogger) (*SQLWatermarkStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, persistenceErrorf(err, "cannot create watermark directory for %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistenceErrorf(err, "failed to open watermark database %s", path)
	}
	// one connection serializes writers inside this process
	db.SetMaxOpenConns(1)
	return newSQLWatermarkStore(db, sqliteUpsert, logger)
}

// OpenPostgresWatermarkStore connects to the database named in config.
func OpenPostgresWatermarkStore(config *Config, logger *zap.SugaredLogger) (*SQLWatermarkStore, error) {
	connStr := "host=" + config.DbHost +
		" user=" + config.DbUser +
		" password=" + config.DbPassword +
		" dbname=" + config.DbName +
		" sslmode=" + config.DbSSLMode
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, persistenceErrorf(err, "failed to open database connection")
	}
	return newSQLWatermarkStore(db, postgresUpsert, logger)
}

func newSQLWatermarkStore(db *sql.DB, upsert string, logger *zap.SugaredLogger) (*SQLWatermarkStore, error) {
	if err := db.Ping(); err != nil {
		err2 := db.Close()
		return nil, appendError(persistenceErrorf(err, "cannot reach watermark database"), errors.WithStack(err2))
	}
	if _, err := db.Exec(watermarkSchema); err != nil {
		err2 := db.Close()
		return nil, appendError(persistenceErrorf(err, "cannot create watermark table"), errors.WithStack(err2))
	}
	return &SQLWatermarkStore{db: db, logger: logger, upsert: upsert}, nil
}

// Load reads all watermarks.  Rows that do not parse are logged and
// ignored.
func (s *SQLWatermarkStore) Load(ctx context.Context) (map[string]Date, error) {
	rows, err := s.db.QueryContext(ctx, selectWatermarks)
	if err != nil {
		return nil, persistenceErrorf(err, "cannot query watermarks")
	}
	defer rows.Close()

	marks := map[string]Date{}
	for rows.Next() {
		var vendor, text string
		if err := rows.Scan(&vendor, &text); err != nil {
			return nil, persistenceErrorf(err, "cannot scan watermark")
		}
		d, ok := ParseDate(text)
		if !ok {
			s.logger.Warnw("ignoring unparseable watermark",
				"vendor", vendor,
				"value", text)
			continue
		}
		marks[vendor] = d
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErrorf(err, "cannot read watermarks")
	}
	return marks, nil
}

// Save raises the vendor's watermark to d.  An earlier or equal d leaves
// the row untouched.
func (s *SQLWatermarkStore) Save(ctx context.Context, vendor string, d Date) error {
	_, err := s.db.ExecContext(ctx, s.upsert, vendor, d.String(), time.Now().Unix())
	if err != nil {
		return persistenceErrorf(err, "cannot save watermark for %s", vendor)
	}
	return nil
}

// Close closes the database.
func (s *SQLWatermarkStore) Close() error {
	return errors.WithStack(s.db.Close())
}
