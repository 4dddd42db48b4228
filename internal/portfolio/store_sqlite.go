package portfolio

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local runs
// and the end-to-end tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS buildings (
	bbl         TEXT PRIMARY KEY,
	total_units INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS building_scores (
	bbl                TEXT PRIMARY KEY,
	total_violations   INTEGER NOT NULL DEFAULT 0,
	class_a_violations INTEGER NOT NULL DEFAULT 0,
	class_b_violations INTEGER NOT NULL DEFAULT 0,
	class_c_violations INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS hpd_registrations (
	registration_id INTEGER PRIMARY KEY,
	bbl             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS owner_portfolios (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	primary_name       TEXT NOT NULL,
	normalized_name    TEXT,
	name_hash          TEXT UNIQUE,
	primary_address    TEXT,
	normalized_address TEXT,
	total_buildings    INTEGER NOT NULL DEFAULT 0,
	total_units        INTEGER NOT NULL DEFAULT 0,
	total_violations   INTEGER NOT NULL DEFAULT 0,
	class_a_violations INTEGER NOT NULL DEFAULT 0,
	class_b_violations INTEGER NOT NULL DEFAULT 0,
	class_c_violations INTEGER NOT NULL DEFAULT 0,
	is_llc             INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS registration_contacts (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	registration_id    INTEGER NOT NULL,
	contact_type       TEXT,
	corporation_name   TEXT,
	full_name          TEXT,
	business_address   TEXT,
	normalized_name    TEXT,
	normalized_address TEXT,
	name_hash          TEXT,
	owner_portfolio_id INTEGER,
	UNIQUE (registration_id, contact_type, full_name)
);

CREATE TABLE IF NOT EXISTS portfolio_aliases (
	name_hash    TEXT PRIMARY KEY,
	portfolio_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_merges (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id             TEXT,
	source_id          INTEGER NOT NULL,
	target_id          INTEGER NOT NULL,
	source_name        TEXT,
	target_name        TEXT,
	similarity         REAL,
	contacts_repointed INTEGER NOT NULL DEFAULT 0,
	merged_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS resolution_runs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	error        TEXT,
	metadata     TEXT
);

CREATE TABLE IF NOT EXISTS resolution_lock (
	name          TEXT PRIMARY KEY,
	holder        TEXT NOT NULL,
	acquired_unix INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hpd_registrations_bbl ON hpd_registrations(bbl);
CREATE INDEX IF NOT EXISTS idx_registration_contacts_name_hash ON registration_contacts(name_hash);
CREATE INDEX IF NOT EXISTS idx_registration_contacts_portfolio ON registration_contacts(owner_portfolio_id);
CREATE INDEX IF NOT EXISTS idx_portfolio_aliases_portfolio ON portfolio_aliases(portfolio_id);
CREATE INDEX IF NOT EXISTS idx_resolution_runs_started_at ON resolution_runs(started_at);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// inClause returns "?, ?, ?" for n values and the values as driver args.
func inClause(values []string) (string, []any) {
	if len(values) == 0 {
		// Matches nothing, keeping the statement valid.
		return "NULL", nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}

func (s *SQLiteStore) ContactVariants(ctx context.Context, roles []string) ([]ContactVariant, error) {
	in, args := inClause(roles)
	rows, err := s.db.QueryContext(ctx, `
		SELECT name_hash,
		       COALESCE(full_name, ''), COALESCE(normalized_name, ''), COALESCE(normalized_address, ''),
		       COALESCE(business_address, ''), COALESCE(corporation_name, ''),
		       COUNT(*)
		FROM registration_contacts
		WHERE name_hash IS NOT NULL AND name_hash <> ''
		  AND contact_type IN (`+in+`)
		GROUP BY name_hash, full_name, normalized_name, normalized_address, business_address, corporation_name
		ORDER BY name_hash, MIN(id)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query contact variants")
	}
	defer rows.Close() //nolint:errcheck

	var out []ContactVariant
	for rows.Next() {
		var v ContactVariant
		if err := rows.Scan(&v.NameHash, &v.FullName, &v.NormalizedName, &v.NormalizedAddress,
			&v.BusinessAddress, &v.CorporationName, &v.ContactCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact variant")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ExistingFingerprints(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name_hash FROM owner_portfolios WHERE name_hash IS NOT NULL
		UNION
		SELECT name_hash FROM portfolio_aliases`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query existing fingerprints")
	}
	defer rows.Close() //nolint:errcheck

	seen := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fingerprint")
		}
		seen[h] = struct{}{}
	}
	return seen, rows.Err()
}

func (s *SQLiteStore) InsertPortfolios(ctx context.Context, ps []Portfolio) (int64, error) {
	if len(ps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert portfolios: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO owner_portfolios
			(primary_name, normalized_name, name_hash, primary_address, normalized_address, is_llc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name_hash) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert portfolios: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var inserted int64
	for _, p := range ps {
		res, err := stmt.ExecContext(ctx, p.PrimaryName, p.NormalizedName, p.NameHash,
			p.PrimaryAddress, p.NormalizedAddress, boolToInt(p.IsLLC), now, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert portfolio %s", p.NameHash)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert portfolios: commit tx")
	}
	return inserted, nil
}

func (s *SQLiteStore) LinkContacts(ctx context.Context, roles []string) (int64, error) {
	in, args := inClause(roles)

	res, err := s.db.ExecContext(ctx, `
		UPDATE registration_contacts
		SET owner_portfolio_id = op.id
		FROM owner_portfolios op
		WHERE registration_contacts.name_hash = op.name_hash
		  AND registration_contacts.owner_portfolio_id IS NULL
		  AND registration_contacts.contact_type IN (`+in+`)`, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: link contacts by fingerprint")
	}
	n, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		UPDATE registration_contacts
		SET owner_portfolio_id = pa.portfolio_id
		FROM portfolio_aliases pa
		WHERE registration_contacts.name_hash = pa.name_hash
		  AND registration_contacts.owner_portfolio_id IS NULL
		  AND registration_contacts.contact_type IN (`+in+`)`, args...)
	if err != nil {
		return n, eris.Wrap(err, "sqlite: link contacts by alias")
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}

func (s *SQLiteStore) OrphanedFingerprints(ctx context.Context, roles []string, limit int) ([]string, int64, error) {
	in, args := inClause(roles)
	rows, err := s.db.QueryContext(ctx, `
		SELECT rc.name_hash, COUNT(*)
		FROM registration_contacts rc
		WHERE rc.name_hash IS NOT NULL AND rc.name_hash <> ''
		  AND rc.contact_type IN (`+in+`)
		  AND NOT EXISTS (SELECT 1 FROM owner_portfolios op WHERE op.name_hash = rc.name_hash)
		  AND NOT EXISTS (SELECT 1 FROM portfolio_aliases pa WHERE pa.name_hash = rc.name_hash)
		GROUP BY rc.name_hash
		ORDER BY rc.name_hash`, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: query orphaned fingerprints")
	}
	defer rows.Close() //nolint:errcheck
	return scanOrphans(rows, limit)
}

func (s *SQLiteStore) UnlinkedContacts(ctx context.Context, roles []string) (int64, error) {
	in, args := inClause(roles)
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registration_contacts
		WHERE name_hash IS NOT NULL AND name_hash <> ''
		  AND owner_portfolio_id IS NULL
		  AND contact_type IN (`+in+`)`, args...).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count unlinked contacts")
	}
	return n, nil
}

func (s *SQLiteStore) ListPortfolios(ctx context.Context) ([]Portfolio, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+portfolioColumns+` FROM owner_portfolios ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list portfolios")
	}
	defer rows.Close() //nolint:errcheck

	var out []Portfolio
	for rows.Next() {
		var p Portfolio
		if err := rows.Scan(portfolioDests(&p)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan portfolio")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPortfolio(ctx context.Context, id int64) (*Portfolio, error) {
	p := &Portfolio{}
	err := s.db.QueryRowContext(ctx, `SELECT `+portfolioColumns+` FROM owner_portfolios WHERE id = ?`, id).
		Scan(portfolioDests(p)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get portfolio %d", id)
	}
	return p, nil
}

func (s *SQLiteStore) CountPortfolios(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM owner_portfolios`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count portfolios")
	}
	return n, nil
}

func (s *SQLiteStore) ApplyMerges(ctx context.Context, runID string, edges []MergeEdge) (MergeBatchResult, error) {
	var res MergeBatchResult
	if len(edges) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: merge: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	present := make(map[int64]bool, len(edges))
	for _, id := range targetIDs(edges) {
		var found int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM owner_portfolios WHERE id = ?`, id).Scan(&found)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: merge: check target %d", id)
		}
		present[found] = true
	}
	if err := checkTargets(edges, present); err != nil {
		return res, err
	}

	now := time.Now().UTC()
	for _, e := range edges {
		r, err := tx.ExecContext(ctx,
			`UPDATE registration_contacts SET owner_portfolio_id = ? WHERE owner_portfolio_id = ?`,
			e.TargetID, e.SourceID)
		if err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "sqlite: merge: repoint %d -> %d", e.SourceID, e.TargetID)
		}
		repointed, _ := r.RowsAffected()

		if _, err := tx.ExecContext(ctx,
			`UPDATE portfolio_aliases SET portfolio_id = ? WHERE portfolio_id = ?`,
			e.TargetID, e.SourceID); err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "sqlite: merge: reroute aliases of %d", e.SourceID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO portfolio_aliases (name_hash, portfolio_id)
			SELECT name_hash, ? FROM owner_portfolios WHERE id = ? AND name_hash IS NOT NULL
			ON CONFLICT (name_hash) DO UPDATE SET portfolio_id = excluded.portfolio_id`,
			e.TargetID, e.SourceID); err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "sqlite: merge: alias %d", e.SourceID)
		}

		r, err = tx.ExecContext(ctx, `DELETE FROM owner_portfolios WHERE id = ?`, e.SourceID)
		if err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "sqlite: merge: delete %d", e.SourceID)
		}
		if deleted, _ := r.RowsAffected(); deleted == 0 {
			res.Skipped++
			res.ContactsRepointed += repointed
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO portfolio_merges
				(run_id, source_id, target_id, source_name, target_name, similarity, contacts_repointed, merged_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, e.SourceID, e.TargetID, e.SourceName, e.TargetName, e.Similarity, repointed, now); err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "sqlite: merge: record %d -> %d", e.SourceID, e.TargetID)
		}
		res.Applied++
		res.ContactsRepointed += repointed
	}

	if err := tx.Commit(); err != nil {
		return MergeBatchResult{}, eris.Wrap(err, "sqlite: merge: commit tx")
	}
	return res, nil
}

func (s *SQLiteStore) RecomputeStats(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE owner_portfolios
		SET total_buildings    = s.building_count,
		    total_units        = s.unit_count,
		    total_violations   = s.violation_count,
		    class_a_violations = s.class_a_count,
		    class_b_violations = s.class_b_count,
		    class_c_violations = s.class_c_count,
		    updated_at         = ?
		FROM (
			SELECT p.id AS id,
			       COUNT(reach.bbl)                        AS building_count,
			       COALESCE(SUM(b.total_units), 0)         AS unit_count,
			       COALESCE(SUM(bs.total_violations), 0)   AS violation_count,
			       COALESCE(SUM(bs.class_a_violations), 0) AS class_a_count,
			       COALESCE(SUM(bs.class_b_violations), 0) AS class_b_count,
			       COALESCE(SUM(bs.class_c_violations), 0) AS class_c_count
			FROM owner_portfolios p
			LEFT JOIN (
				SELECT DISTINCT rc.owner_portfolio_id, r.bbl
				FROM registration_contacts rc
				JOIN hpd_registrations r ON r.registration_id = rc.registration_id
				WHERE rc.owner_portfolio_id IS NOT NULL
			) reach ON reach.owner_portfolio_id = p.id
			LEFT JOIN buildings b ON b.bbl = reach.bbl
			LEFT JOIN building_scores bs ON bs.bbl = reach.bbl
			GROUP BY p.id
		) AS s
		WHERE owner_portfolios.id = s.id`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: recompute stats")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO resolution_lock (name, holder, acquired_unix)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET holder = excluded.holder, acquired_unix = excluded.acquired_unix
		WHERE resolution_lock.acquired_unix < ?`,
		name, holder, now, now-int64(ttl.Seconds()))
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire lease %s", name)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM resolution_lock WHERE name = ? AND holder = ?`, name, holder); err != nil {
		return eris.Wrapf(err, "sqlite: release lease %s", name)
	}
	return nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, id, kind string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resolution_runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		id, kind, RunStatusRunning, time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "sqlite: start run %s", kind)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, metadata map[string]any) error {
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	var meta any
	if metaJSON != nil {
		meta = string(metaJSON)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE resolution_runs SET status = ?, completed_at = ?, metadata = ? WHERE id = ?`,
		RunStatusComplete, time.Now().UTC(), meta, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE resolution_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		RunStatusFailed, time.Now().UTC(), errMsg, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", id)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, started_at, completed_at, COALESCE(error, ''), metadata
		FROM resolution_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []Run
	for rows.Next() {
		var (
			r    Run
			meta sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.StartedAt, &r.CompletedAt, &r.Error, &meta); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, eris.Wrapf(err, "sqlite: decode metadata of run %s", r.ID)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertRegistrations loads registration to building rows. Existing
// registrations are left untouched.
func (s *SQLiteStore) InsertRegistrations(ctx context.Context, regs []Registration) error {
	for _, r := range regs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO hpd_registrations (registration_id, bbl) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			r.RegistrationID, r.BBL); err != nil {
			return eris.Wrapf(err, "sqlite: insert registration %d", r.RegistrationID)
		}
	}
	return nil
}

// InsertBuildings upserts buildings and their violation scores.
func (s *SQLiteStore) InsertBuildings(ctx context.Context, buildings []Building) error {
	for _, b := range buildings {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO buildings (bbl, total_units) VALUES (?, ?)
			ON CONFLICT (bbl) DO UPDATE SET total_units = excluded.total_units`,
			b.BBL, b.TotalUnits); err != nil {
			return eris.Wrapf(err, "sqlite: insert building %s", b.BBL)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO building_scores (bbl, total_violations, class_a_violations, class_b_violations, class_c_violations)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (bbl) DO UPDATE SET
				total_violations = excluded.total_violations,
				class_a_violations = excluded.class_a_violations,
				class_b_violations = excluded.class_b_violations,
				class_c_violations = excluded.class_c_violations`,
			b.BBL, b.TotalViolations, b.Violations.A, b.Violations.B, b.Violations.C); err != nil {
			return eris.Wrapf(err, "sqlite: insert building score %s", b.BBL)
		}
	}
	return nil
}

// InsertContacts loads contact rows and assigns their ids.
func (s *SQLiteStore) InsertContacts(ctx context.Context, contacts []ContactRecord) error {
	for i := range contacts {
		c := &contacts[i]
		var hash any
		if c.NameHash != "" {
			hash = c.NameHash
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO registration_contacts
				(registration_id, contact_type, corporation_name, full_name, business_address,
				 normalized_name, normalized_address, name_hash, owner_portfolio_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.RegistrationID, c.ContactType, c.CorporationName, c.FullName, c.BusinessAddress,
			c.NormalizedName, c.NormalizedAddress, hash, c.PortfolioID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert contact %q", c.FullName)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return eris.Wrap(err, "sqlite: contact id")
		}
	}
	return nil
}

// ListContacts returns every contact ordered by id.
func (s *SQLiteStore) ListContacts(ctx context.Context) ([]ContactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, registration_id, COALESCE(contact_type, ''), COALESCE(full_name, ''),
		       COALESCE(corporation_name, ''), COALESCE(business_address, ''),
		       COALESCE(normalized_name, ''), COALESCE(normalized_address, ''),
		       COALESCE(name_hash, ''), owner_portfolio_id
		FROM registration_contacts
		ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []ContactRecord
	for rows.Next() {
		var c ContactRecord
		if err := rows.Scan(&c.ID, &c.RegistrationID, &c.ContactType, &c.FullName,
			&c.CorporationName, &c.BusinessAddress, &c.NormalizedName, &c.NormalizedAddress,
			&c.NameHash, &c.PortfolioID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Merges returns the audit trail of applied merges, oldest first.
func (s *SQLiteStore) Merges(ctx context.Context) ([]MergeEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, COALESCE(source_name, ''), COALESCE(target_name, ''), COALESCE(similarity, 0)
		FROM portfolio_merges ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list merges")
	}
	defer rows.Close() //nolint:errcheck

	var out []MergeEdge
	for rows.Next() {
		var e MergeEdge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.SourceName, &e.TargetName, &e.Similarity); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan merge")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
