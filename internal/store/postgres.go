package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/db"
	"github.com/sells-group/order-parser/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgModelSelect = `SELECT pm.id, pm.name, pm.display_name, pm.active, pm.created_at, pm.updated_at,
	v.id, v.version, v.detection_rules, v.mapping_config, v.examples, v.created_by, v.created_at
FROM parser_models pm
LEFT JOIN parser_model_versions v ON v.id = pm.current_version_id`

	pgLogColumns = `id, document_id, filename, hash_sha256, company_name, model_name, model_confidence,
	parser_version, status, started_at, finished_at, duration_ms, warnings_count, errors_count, error_summary,
	correlation_id, triggered_by, raw_metadata`

	pgDocumentColumns = `document_id, filename, hash_sha256, schema_version, parser_version, status,
	model_name, model_confidence, warnings, missing_fields, canonical, created_at, updated_at`

	pgGetModel       = pgModelSelect + ` WHERE pm.name = $1`
	pgGetLog         = `SELECT ` + pgLogColumns + ` FROM processing_logs WHERE id = $1`
	pgGetDocument    = `SELECT ` + pgDocumentColumns + ` FROM parsed_documents WHERE document_id = $1`
	pgDocumentHash   = `SELECT ` + pgDocumentColumns + ` FROM parsed_documents WHERE hash_sha256 = $1 ORDER BY updated_at DESC LIMIT 1`
	pgInsertLog      = `INSERT INTO processing_logs (` + pgLogColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	pgUpsertDocument = `INSERT INTO parsed_documents (` + pgDocumentColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	ON CONFLICT (document_id) DO UPDATE SET
		filename = EXCLUDED.filename,
		hash_sha256 = EXCLUDED.hash_sha256,
		schema_version = EXCLUDED.schema_version,
		parser_version = EXCLUDED.parser_version,
		status = EXCLUDED.status,
		model_name = EXCLUDED.model_name,
		model_confidence = EXCLUDED.model_confidence,
		warnings = EXCLUDED.warnings,
		missing_fields = EXCLUDED.missing_fields,
		canonical = EXCLUDED.canonical,
		updated_at = EXCLUDED.updated_at`
)

// preparedStatements lists the statements every pipeline run issues.
var preparedStatements = map[string]string{
	"get_model":              pgGetModel,
	"get_log":                pgGetLog,
	"insert_log":             pgInsertLog,
	"get_document":           pgGetDocument,
	"find_document_by_hash":  pgDocumentHash,
	"upsert_parsed_document": pgUpsertDocument,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Statements reference tables created by Migrate, so on a fresh
	// database the first connections skip preparing.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				zap.L().Debug("postgres: prepare skipped", zap.String("statement", name), zap.Error(err))
				return nil
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS parser_models (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL UNIQUE,
	display_name       TEXT NOT NULL DEFAULT '',
	active             BOOLEAN NOT NULL DEFAULT true,
	current_version_id TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS parser_model_versions (
	id              TEXT PRIMARY KEY,
	seq             BIGSERIAL,
	model_id        TEXT NOT NULL REFERENCES parser_models(id),
	version         TEXT NOT NULL,
	detection_rules JSONB NOT NULL DEFAULT '{}',
	mapping_config  JSONB NOT NULL DEFAULT '{}',
	examples        JSONB NOT NULL DEFAULT '[]',
	created_by      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS detection_rules (
	id               BIGSERIAL PRIMARY KEY,
	model_version_id TEXT NOT NULL REFERENCES parser_model_versions(id),
	rule_type        TEXT NOT NULL,
	rule_value       TEXT NOT NULL,
	weight           DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_mappings (
	id               BIGSERIAL PRIMARY KEY,
	model_version_id TEXT NOT NULL REFERENCES parser_model_versions(id),
	source_field     TEXT NOT NULL,
	target_field     TEXT NOT NULL,
	transform        TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processing_logs (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL DEFAULT '',
	filename         TEXT NOT NULL DEFAULT '',
	hash_sha256      TEXT NOT NULL DEFAULT '',
	company_name     TEXT NOT NULL DEFAULT '',
	model_name       TEXT NOT NULL DEFAULT '',
	model_confidence DOUBLE PRECISION,
	parser_version   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ,
	duration_ms      BIGINT,
	warnings_count   INTEGER NOT NULL DEFAULT 0,
	errors_count     INTEGER NOT NULL DEFAULT 0,
	error_summary    TEXT NOT NULL DEFAULT '',
	correlation_id   TEXT NOT NULL DEFAULT '',
	triggered_by     TEXT NOT NULL DEFAULT '',
	raw_metadata     JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS parsed_documents (
	document_id      TEXT PRIMARY KEY,
	filename         TEXT NOT NULL DEFAULT '',
	hash_sha256      TEXT NOT NULL DEFAULT '',
	schema_version   TEXT NOT NULL DEFAULT '',
	parser_version   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	model_name       TEXT NOT NULL DEFAULT '',
	model_confidence DOUBLE PRECISION,
	warnings         JSONB NOT NULL DEFAULT '[]',
	missing_fields   JSONB NOT NULL DEFAULT '[]',
	canonical        JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_versions_model_id ON parser_model_versions(model_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_detection_rules_version ON detection_rules(model_version_id);
CREATE INDEX IF NOT EXISTS idx_field_mappings_version ON field_mappings(model_version_id);
CREATE INDEX IF NOT EXISTS idx_logs_started_at ON processing_logs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_logs_status ON processing_logs(status);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON parsed_documents(hash_sha256, updated_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// Models

func (s *PostgresStore) ListModels(ctx context.Context) ([]model.ParserModel, error) {
	rows, err := s.pool.Query(ctx, pgModelSelect+` ORDER BY pm.name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list models")
	}
	defer rows.Close()

	models := []model.ParserModel{}
	for rows.Next() {
		m, err := scanPgModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, *m)
	}
	return models, eris.Wrap(rows.Err(), "postgres: list models iterate")
}

func (s *PostgresStore) GetModel(ctx context.Context, name string) (*model.ParserModel, error) {
	m, err := scanPgModel(s.pool.QueryRow(ctx, pgGetModel, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (s *PostgresStore) CreateModel(ctx context.Context, in ModelInput) (*model.ParserModel, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, eris.New("postgres: model name is required")
	}
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		id := uuid.New().String()
		now := s.clock()
		if _, err := tx.Exec(ctx,
			`INSERT INTO parser_models (id, name, display_name, active, created_at, updated_at) VALUES ($1, $2, $3, true, $4, $4)`,
			id, in.Name, in.DisplayName, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert model %s", in.Name)
		}
		return s.addVersion(ctx, tx, id, "v1", VersionInput{
			DetectionRules: in.DetectionRules,
			MappingConfig:  in.MappingConfig,
			Examples:       in.Examples,
			CreatedBy:      in.CreatedBy,
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create model")
	}
	return s.GetModel(ctx, in.Name)
}

func (s *PostgresStore) UpdateModel(ctx context.Context, name string, upd ModelUpdate) (*model.ParserModel, error) {
	m, err := s.GetModel(ctx, name)
	if err != nil || m == nil {
		return m, err
	}
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		now := s.clock()
		if upd.DisplayName != nil {
			if _, err := tx.Exec(ctx, `UPDATE parser_models SET display_name = $1, updated_at = $2 WHERE id = $3`,
				*upd.DisplayName, now, m.ID); err != nil {
				return eris.Wrapf(err, "postgres: update display name %s", name)
			}
		}
		if upd.Active != nil {
			if _, err := tx.Exec(ctx, `UPDATE parser_models SET active = $1, updated_at = $2 WHERE id = $3`,
				*upd.Active, now, m.ID); err != nil {
				return eris.Wrapf(err, "postgres: update active %s", name)
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
		return nil, eris.Wrap(err, "postgres: update model")
	}
	return s.GetModel(ctx, name)
}

func (s *PostgresStore) AddVersion(ctx context.Context, name string, in VersionInput) (*model.ParserModel, error) {
	m, err := s.GetModel(ctx, name)
	if err != nil || m == nil {
		return m, err
	}
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		next, err := s.nextVersion(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		return s.addVersion(ctx, tx, m.ID, next, in)
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: add version")
	}
	return s.GetModel(ctx, name)
}

func (s *PostgresStore) SetActive(ctx context.Context, name string, active bool) (*model.ParserModel, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE parser_models SET active = $1, updated_at = $2 WHERE name = $3`,
		active, s.clock(), name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: set active %s", name)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetModel(ctx, name)
}

func (s *PostgresStore) ListVersions(ctx context.Context, name string) ([]model.ParserModelVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT v.id, v.model_id, v.version, v.detection_rules, v.mapping_config, v.examples, v.created_by, v.created_at
		 FROM parser_model_versions v JOIN parser_models pm ON pm.id = v.model_id
		 WHERE pm.name = $1 ORDER BY v.seq DESC`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list versions %s", name)
	}
	defer rows.Close()

	versions := []model.ParserModelVersion{}
	for rows.Next() {
		var (
			v                  model.ParserModelVersion
			rules, mapping, ex []byte
		)
		if err := rows.Scan(&v.ID, &v.ModelID, &v.Version, &rules, &mapping, &ex, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan version")
		}
		if err := decodeVersion(&v, rules, mapping, ex); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, eris.Wrap(rows.Err(), "postgres: list versions iterate")
}

func (s *PostgresStore) nextVersion(ctx context.Context, tx pgx.Tx, modelID string) (string, error) {
	var latest string
	err := tx.QueryRow(ctx,
		`SELECT version FROM parser_model_versions WHERE model_id = $1 ORDER BY seq DESC LIMIT 1`, modelID,
	).Scan(&latest)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrap(err, "postgres: latest version")
	}
	return nextVersion(latest, s.clock()), nil
}

// addVersion inserts a version, bulk-copies its rule and mapping rows and
// points the model at it.
func (s *PostgresStore) addVersion(ctx context.Context, tx pgx.Tx, modelID, version string, in VersionInput) error {
	rules, mapping, examples, err := encodeVersion(in)
	if err != nil {
		return err
	}
	id := uuid.New().String()
	now := s.clock()
	if _, err := tx.Exec(ctx,
		`INSERT INTO parser_model_versions (id, model_id, version, detection_rules, mapping_config, examples, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, modelID, version, rules, mapping, examples, in.CreatedBy, now,
	); err != nil {
		return eris.Wrap(err, "postgres: insert version")
	}

	var ruleData [][]any
	for _, r := range ruleRows(in.DetectionRules) {
		ruleData = append(ruleData, []any{id, r.ruleType, r.value, r.weight, now})
	}
	if _, err := db.CopyFrom(ctx, tx, "detection_rules",
		[]string{"model_version_id", "rule_type", "rule_value", "weight", "created_at"}, ruleData); err != nil {
		return err
	}

	var mappingData [][]any
	for _, fm := range mappingRows(in.MappingConfig) {
		mappingData = append(mappingData, []any{id, fm.Source, fm.Target, fm.Transform, now})
	}
	if _, err := db.CopyFrom(ctx, tx, "field_mappings",
		[]string{"model_version_id", "source_field", "target_field", "transform", "created_at"}, mappingData); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE parser_models SET current_version_id = $1, updated_at = $2 WHERE id = $3`, id, now, modelID)
	return eris.Wrap(err, "postgres: set current version")
}

// Logs

func (s *PostgresStore) CreateLog(ctx context.Context, l *model.ProcessingLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	meta, err := marshalJSON(nonNilMap(l.RawMetadata))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgInsertLog,
		l.ID, l.DocumentID, l.Filename, l.HashSHA256, l.CompanyName, l.ModelName, l.ModelConfidence,
		l.ParserVersion, l.Status, l.StartedAt, l.FinishedAt, l.DurationMS,
		l.WarningsCount, l.ErrorsCount, l.ErrorSummary, l.CorrelationID, l.TriggeredBy, meta,
	)
	return eris.Wrapf(err, "postgres: insert log %s", l.ID)
}

func pgBind(n int) string { return fmt.Sprintf("$%d", n) }

func (s *PostgresStore) UpdateLog(ctx context.Context, id string, upd model.LogUpdate) error {
	sets, args, err := logUpdateSet(upd, pgBind, func(t time.Time) any { return t }, func(b []byte) any { return b })
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE processing_logs SET %s WHERE id = %s`, strings.Join(sets, ", "), pgBind(len(args))), args...)
	return eris.Wrapf(err, "postgres: update log %s", id)
}

func (s *PostgresStore) GetLog(ctx context.Context, id string) (*model.ProcessingLog, error) {
	l, err := scanPgLog(s.pool.QueryRow(ctx, pgGetLog, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *PostgresStore) ListLogs(ctx context.Context, f LogFilter) ([]model.ProcessingLog, error) {
	where, args := logWhere(f, pgBind, func(t time.Time) any { return t })
	query := fmt.Sprintf(`SELECT %s FROM processing_logs%s ORDER BY started_at DESC LIMIT %s OFFSET %s`,
		pgLogColumns, where, pgBind(len(args)+1), pgBind(len(args)+2))
	args = append(args, f.EffectiveLimit(), f.offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list logs")
	}
	defer rows.Close()

	logs := []model.ProcessingLog{}
	for rows.Next() {
		l, err := scanPgLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list logs iterate")
}

// Documents

func (s *PostgresStore) UpsertDocument(ctx context.Context, d *model.ParsedDocument) error {
	warnings, missing, canonical, err := encodeDocument(d)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgUpsertDocument,
		d.DocumentID, d.Filename, d.HashSHA256, d.SchemaVersion, d.ParserVersion, d.Status,
		d.ModelName, d.ModelConfidence, warnings, missing, canonical, s.clock(),
	)
	return eris.Wrapf(err, "postgres: upsert document %s", d.DocumentID)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (*model.ParsedDocument, error) {
	return scanPgDocument(s.pool.QueryRow(ctx, pgGetDocument, documentID))
}

func (s *PostgresStore) FindDocumentByHash(ctx context.Context, hash string) (*model.ParsedDocument, error) {
	if hash == "" {
		return nil, nil
	}
	return scanPgDocument(s.pool.QueryRow(ctx, pgDocumentHash, hash))
}

// helpers

func scanPgModel(row scannable) (*model.ParserModel, error) {
	var (
		m                          model.ParserModel
		vID, vVersion, vBy         *string
		vRules, vMapping, vExample []byte
		vCreated                   *time.Time
	)
	err := row.Scan(&m.ID, &m.Name, &m.DisplayName, &m.Active, &m.CreatedAt, &m.UpdatedAt,
		&vID, &vVersion, &vRules, &vMapping, &vExample, &vBy, &vCreated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan model")
	}
	if vID != nil {
		v := &model.ParserModelVersion{ID: *vID, ModelID: m.ID}
		if vVersion != nil {
			v.Version = *vVersion
		}
		if vBy != nil {
			v.CreatedBy = *vBy
		}
		if vCreated != nil {
			v.CreatedAt = *vCreated
		}
		if err := decodeVersion(v, vRules, vMapping, vExample); err != nil {
			return nil, err
		}
		m.CurrentVersion = v
	}
	return &m, nil
}

func scanPgLog(row scannable) (*model.ProcessingLog, error) {
	var (
		l    model.ProcessingLog
		meta []byte
	)
	err := row.Scan(&l.ID, &l.DocumentID, &l.Filename, &l.HashSHA256, &l.CompanyName, &l.ModelName, &l.ModelConfidence,
		&l.ParserVersion, &l.Status, &l.StartedAt, &l.FinishedAt, &l.DurationMS, &l.WarningsCount, &l.ErrorsCount,
		&l.ErrorSummary, &l.CorrelationID, &l.TriggeredBy, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan log")
	}
	if len(meta) > 0 {
		if err := unmarshalJSON(meta, &l.RawMetadata); err != nil {
			return nil, err
		}
	}
	return &l, nil
}

func scanPgDocument(row scannable) (*model.ParsedDocument, error) {
	var (
		d                            model.ParsedDocument
		warnings, missing, canonical []byte
	)
	err := row.Scan(&d.DocumentID, &d.Filename, &d.HashSHA256, &d.SchemaVersion, &d.ParserVersion, &d.Status,
		&d.ModelName, &d.ModelConfidence, &warnings, &missing, &canonical, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}
	if err := decodeDocument(&d, warnings, missing); err != nil {
		return nil, err
	}
	d.Canonical = canonical
	return &d, nil
}

var _ Store = (*PostgresStore)(nil)
