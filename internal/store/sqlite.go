package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/order-parser/internal/model"
)

// sqliteTime is fixed width so stored timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The parent directory is created when missing.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "order-parser.db"
	}
	if dir := filepath.Dir(dsn); dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS parser_models (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL UNIQUE,
	display_name       TEXT NOT NULL DEFAULT '',
	active             INTEGER NOT NULL DEFAULT 1,
	current_version_id TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS parser_model_versions (
	id              TEXT PRIMARY KEY,
	model_id        TEXT NOT NULL REFERENCES parser_models(id),
	version         TEXT NOT NULL,
	detection_rules TEXT NOT NULL DEFAULT '{}',
	mapping_config  TEXT NOT NULL DEFAULT '{}',
	examples        TEXT NOT NULL DEFAULT '[]',
	created_by      TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS detection_rules (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	model_version_id TEXT NOT NULL REFERENCES parser_model_versions(id),
	rule_type        TEXT NOT NULL,
	rule_value       TEXT NOT NULL,
	weight           REAL NOT NULL DEFAULT 1.0,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS field_mappings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	model_version_id TEXT NOT NULL REFERENCES parser_model_versions(id),
	source_field     TEXT NOT NULL,
	target_field     TEXT NOT NULL,
	transform        TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_logs (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL DEFAULT '',
	filename         TEXT NOT NULL DEFAULT '',
	hash_sha256      TEXT NOT NULL DEFAULT '',
	company_name     TEXT NOT NULL DEFAULT '',
	model_name       TEXT NOT NULL DEFAULT '',
	model_confidence REAL,
	parser_version   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	started_at       TEXT NOT NULL,
	finished_at      TEXT,
	duration_ms      INTEGER,
	warnings_count   INTEGER NOT NULL DEFAULT 0,
	errors_count     INTEGER NOT NULL DEFAULT 0,
	error_summary    TEXT NOT NULL DEFAULT '',
	correlation_id   TEXT NOT NULL DEFAULT '',
	triggered_by     TEXT NOT NULL DEFAULT '',
	raw_metadata     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS parsed_documents (
	document_id      TEXT PRIMARY KEY,
	filename         TEXT NOT NULL DEFAULT '',
	hash_sha256      TEXT NOT NULL DEFAULT '',
	schema_version   TEXT NOT NULL DEFAULT '',
	parser_version   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	model_name       TEXT NOT NULL DEFAULT '',
	model_confidence REAL,
	warnings         TEXT NOT NULL DEFAULT '[]',
	missing_fields   TEXT NOT NULL DEFAULT '[]',
	canonical        TEXT NOT NULL DEFAULT '{}',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_versions_model_id ON parser_model_versions(model_id);
CREATE INDEX IF NOT EXISTS idx_detection_rules_version ON detection_rules(model_version_id);
CREATE INDEX IF NOT EXISTS idx_field_mappings_version ON field_mappings(model_version_id);
CREATE INDEX IF NOT EXISTS idx_logs_started_at ON processing_logs(started_at);
CREATE INDEX IF NOT EXISTS idx_logs_status ON processing_logs(status);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON parsed_documents(hash_sha256);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(sqliteTime)
}

// Models

const sqliteModelSelect = `SELECT pm.id, pm.name, pm.display_name, pm.active, pm.created_at, pm.updated_at,
	v.id, v.version, v.detection_rules, v.mapping_config, v.examples, v.created_by, v.created_at
FROM parser_models pm
LEFT JOIN parser_model_versions v ON v.id = pm.current_version_id`

func (s *SQLiteStore) ListModels(ctx context.Context) ([]model.ParserModel, error) {
	rows, err := s.db.QueryContext(ctx, sqliteModelSelect+` ORDER BY pm.name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list models")
	}
	defer rows.Close() //nolint:errcheck

	models := []model.ParserModel{}
	for rows.Next() {
		m, err := scanSQLiteModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, *m)
	}
	return models, eris.Wrap(rows.Err(), "sqlite: list models iterate")
}

func (s *SQLiteStore) GetModel(ctx context.Context, name string) (*model.ParserModel, error) {
	row := s.db.QueryRowContext(ctx, sqliteModelSelect+` WHERE pm.name = ?`, name)
	m, err := scanSQLiteModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStore) CreateModel(ctx context.Context, in ModelInput) (*model.ParserModel, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, eris.New("sqlite: model name is required")
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		id := uuid.New().String()
		now := s.stamp()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO parser_models (id, name, display_name, active, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`,
			id, in.Name, in.DisplayName, now, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert model %s", in.Name)
		}
		return s.addVersion(ctx, tx, id, "v1", VersionInput{
			DetectionRules: in.DetectionRules,
			MappingConfig:  in.MappingConfig,
			Examples:       in.Examples,
			CreatedBy:      in.CreatedBy,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetModel(ctx, in.Name)
}

func (s *SQLiteStore) UpdateModel(ctx context.Context, name string, upd ModelUpdate) (*model.ParserModel, error) {
	m, err := s.GetModel(ctx, name)
	if err != nil || m == nil {
		return m, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		if upd.DisplayName != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE parser_models SET display_name = ?, updated_at = ? WHERE id = ?`,
				*upd.DisplayName, now, m.ID); err != nil {
				return eris.Wrapf(err, "sqlite: update display name %s", name)
			}
		}
		if upd.Active != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE parser_models SET active = ?, updated_at = ? WHERE id = ?`,
				*upd.Active, now, m.ID); err != nil {
				return eris.Wrapf(err, "sqlite: update active %s", name)
			}
		}
		if !upd.changesVersion() {
			return nil
		}
		next, err := s.nextVersion(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		return s.addVersion(ctx, tx, m.ID, next, carryOver(m.CurrentVersion, upd))
	})
	if err != nil {
		return nil, err
	}
	return s.GetModel(ctx, name)
}

func (s *SQLiteStore) AddVersion(ctx context.Context, name string, in VersionInput) (*model.ParserModel, error) {
	m, err := s.GetModel(ctx, name)
	if err != nil || m == nil {
		return m, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		next, err := s.nextVersion(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		return s.addVersion(ctx, tx, m.ID, next, in)
	})
	if err != nil {
		return nil, err
	}
	return s.GetModel(ctx, name)
}

func (s *SQLiteStore) SetActive(ctx context.Context, name string, active bool) (*model.ParserModel, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE parser_models SET active = ?, updated_at = ? WHERE name = ?`,
		active, s.stamp(), name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: set active %s", name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetModel(ctx, name)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, name string) ([]model.ParserModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.model_id, v.version, v.detection_rules, v.mapping_config, v.examples, v.created_by, v.created_at
		 FROM parser_model_versions v JOIN parser_models pm ON pm.id = v.model_id
		 WHERE pm.name = ? ORDER BY v.rowid DESC`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list versions %s", name)
	}
	defer rows.Close() //nolint:errcheck

	versions := []model.ParserModelVersion{}
	for rows.Next() {
		var (
			v                           model.ParserModelVersion
			rules, mapping, ex, created string
		)
		if err := rows.Scan(&v.ID, &v.ModelID, &v.Version, &rules, &mapping, &ex, &v.CreatedBy, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan version")
		}
		if err := decodeVersion(&v, []byte(rules), []byte(mapping), []byte(ex)); err != nil {
			return nil, err
		}
		v.CreatedAt = parseSQLiteTime(created)
		versions = append(versions, v)
	}
	return versions, eris.Wrap(rows.Err(), "sqlite: list versions iterate")
}

func (s *SQLiteStore) nextVersion(ctx context.Context, tx *sql.Tx, modelID string) (string, error) {
	var latest string
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM parser_model_versions WHERE model_id = ? ORDER BY rowid DESC LIMIT 1`, modelID,
	).Scan(&latest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrap(err, "sqlite: latest version")
	}
	return nextVersion(latest, s.now()), nil
}

// addVersion inserts a version with its rule and mapping rows and points the model at it.
func (s *SQLiteStore) addVersion(ctx context.Context, tx *sql.Tx, modelID, version string, in VersionInput) error {
	rules, mapping, examples, err := encodeVersion(in)
	if err != nil {
		return err
	}
	id := uuid.New().String()
	now := s.stamp()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO parser_model_versions (id, model_id, version, detection_rules, mapping_config, examples, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, modelID, version, string(rules), string(mapping), string(examples), in.CreatedBy, now,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert version")
	}
	for _, r := range ruleRows(in.DetectionRules) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO detection_rules (model_version_id, rule_type, rule_value, weight, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, r.ruleType, r.value, r.weight, now,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert detection rule")
		}
	}
	for _, fm := range mappingRows(in.MappingConfig) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO field_mappings (model_version_id, source_field, target_field, transform, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, fm.Source, fm.Target, fm.Transform, now,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert field mapping")
		}
	}
	_, err = tx.ExecContext(ctx, `UPDATE parser_models SET current_version_id = ?, updated_at = ? WHERE id = ?`, id, now, modelID)
	return eris.Wrap(err, "sqlite: set current version")
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// Logs

func (s *SQLiteStore) CreateLog(ctx context.Context, l *model.ProcessingLog) error {
	meta, err := json.Marshal(nonNilMap(l.RawMetadata))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal log metadata")
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	var finished *string
	if l.FinishedAt != nil {
		f := l.FinishedAt.UTC().Format(sqliteTime)
		finished = &f
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processing_logs (id, document_id, filename, hash_sha256, company_name, model_name, model_confidence,
			parser_version, status, started_at, finished_at, duration_ms, warnings_count, errors_count, error_summary,
			correlation_id, triggered_by, raw_metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.DocumentID, l.Filename, l.HashSHA256, l.CompanyName, l.ModelName, l.ModelConfidence,
		l.ParserVersion, l.Status, l.StartedAt.UTC().Format(sqliteTime), finished, l.DurationMS,
		l.WarningsCount, l.ErrorsCount, l.ErrorSummary, l.CorrelationID, l.TriggeredBy, string(meta),
	)
	return eris.Wrapf(err, "sqlite: insert log %s", l.ID)
}

func (s *SQLiteStore) UpdateLog(ctx context.Context, id string, upd model.LogUpdate) error {
	sets, args, err := logUpdateSet(upd, sqliteBind, func(t time.Time) any {
		return t.UTC().Format(sqliteTime)
	}, func(b []byte) any { return string(b) })
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE processing_logs SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	return eris.Wrapf(err, "sqlite: update log %s", id)
}

const sqliteLogColumns = `id, document_id, filename, hash_sha256, company_name, model_name, model_confidence,
	parser_version, status, started_at, finished_at, duration_ms, warnings_count, errors_count, error_summary,
	correlation_id, triggered_by, raw_metadata`

func (s *SQLiteStore) GetLog(ctx context.Context, id string) (*model.ProcessingLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteLogColumns+` FROM processing_logs WHERE id = ?`, id)
	l, err := scanSQLiteLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *SQLiteStore) ListLogs(ctx context.Context, f LogFilter) ([]model.ProcessingLog, error) {
	where, args := logWhere(f, sqliteBind, func(t time.Time) any {
		return t.UTC().Format(sqliteTime)
	})
	query := `SELECT ` + sqliteLogColumns + ` FROM processing_logs` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.EffectiveLimit(), f.offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list logs")
	}
	defer rows.Close() //nolint:errcheck

	logs := []model.ProcessingLog{}
	for rows.Next() {
		l, err := scanSQLiteLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list logs iterate")
}

// Documents

func (s *SQLiteStore) UpsertDocument(ctx context.Context, d *model.ParsedDocument) error {
	warnings, missing, canonical, err := encodeDocument(d)
	if err != nil {
		return err
	}
	now := s.stamp()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO parsed_documents (document_id, filename, hash_sha256, schema_version, parser_version, status,
			model_name, model_confidence, warnings, missing_fields, canonical, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			filename = excluded.filename,
			hash_sha256 = excluded.hash_sha256,
			schema_version = excluded.schema_version,
			parser_version = excluded.parser_version,
			status = excluded.status,
			model_name = excluded.model_name,
			model_confidence = excluded.model_confidence,
			warnings = excluded.warnings,
			missing_fields = excluded.missing_fields,
			canonical = excluded.canonical,
			updated_at = excluded.updated_at`,
		d.DocumentID, d.Filename, d.HashSHA256, d.SchemaVersion, d.ParserVersion, d.Status,
		d.ModelName, d.ModelConfidence, string(warnings), string(missing), string(canonical), now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert document %s", d.DocumentID)
}

const sqliteDocumentColumns = `document_id, filename, hash_sha256, schema_version, parser_version, status,
	model_name, model_confidence, warnings, missing_fields, canonical, created_at, updated_at`

func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (*model.ParsedDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM parsed_documents WHERE document_id = ?`, documentID)
	return scanSQLiteDocument(row)
}

func (s *SQLiteStore) FindDocumentByHash(ctx context.Context, hash string) (*model.ParsedDocument, error) {
	if hash == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM parsed_documents WHERE hash_sha256 = ? ORDER BY updated_at DESC LIMIT 1`, hash)
	return scanSQLiteDocument(row)
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteModel(row scannable) (*model.ParserModel, error) {
	var (
		m                model.ParserModel
		created, updated string
		vID, vVersion    sql.NullString
		vRules, vMapping sql.NullString
		vExamples, vBy   sql.NullString
		vCreated         sql.NullString
	)
	err := row.Scan(&m.ID, &m.Name, &m.DisplayName, &m.Active, &created, &updated,
		&vID, &vVersion, &vRules, &vMapping, &vExamples, &vBy, &vCreated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan model")
	}
	m.CreatedAt = parseSQLiteTime(created)
	m.UpdatedAt = parseSQLiteTime(updated)
	if vID.Valid {
		v := &model.ParserModelVersion{
			ID:        vID.String,
			ModelID:   m.ID,
			Version:   vVersion.String,
			CreatedBy: vBy.String,
			CreatedAt: parseSQLiteTime(vCreated.String),
		}
		if err := decodeVersion(v, []byte(vRules.String), []byte(vMapping.String), []byte(vExamples.String)); err != nil {
			return nil, err
		}
		m.CurrentVersion = v
	}
	return &m, nil
}

func scanSQLiteLog(row scannable) (*model.ProcessingLog, error) {
	var (
		l        model.ProcessingLog
		started  string
		finished sql.NullString
		meta     string
	)
	err := row.Scan(&l.ID, &l.DocumentID, &l.Filename, &l.HashSHA256, &l.CompanyName, &l.ModelName, &l.ModelConfidence,
		&l.ParserVersion, &l.Status, &started, &finished, &l.DurationMS, &l.WarningsCount, &l.ErrorsCount,
		&l.ErrorSummary, &l.CorrelationID, &l.TriggeredBy, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan log")
	}
	l.StartedAt = parseSQLiteTime(started)
	if finished.Valid {
		t := parseSQLiteTime(finished.String)
		l.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(meta), &l.RawMetadata); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal log metadata")
	}
	return &l, nil
}

func scanSQLiteDocument(row scannable) (*model.ParsedDocument, error) {
	var (
		d                            model.ParsedDocument
		warnings, missing, canonical string
		created, updated             string
	)
	err := row.Scan(&d.DocumentID, &d.Filename, &d.HashSHA256, &d.SchemaVersion, &d.ParserVersion, &d.Status,
		&d.ModelName, &d.ModelConfidence, &warnings, &missing, &canonical, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}
	if err := decodeDocument(&d, []byte(warnings), []byte(missing)); err != nil {
		return nil, err
	}
	d.Canonical = []byte(canonical)
	d.CreatedAt = parseSQLiteTime(created)
	d.UpdatedAt = parseSQLiteTime(updated)
	return &d, nil
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Store = (*SQLiteStore)(nil)
