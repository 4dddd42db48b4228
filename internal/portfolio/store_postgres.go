package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-cli/internal/db"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore. The caller owns the pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close is a no-op; the pool is closed by whoever opened it.
func (s *PostgresStore) Close() error { return nil }

// ContactVariantsSQL groups owner-role contacts by fingerprint and distinct
// name+address. Variants are ordered by the earliest contact row citing them,
// which is the tie-break used when picking a primary.
func ContactVariantsSQL() string {
	return `
SELECT
    name_hash,
    COALESCE(full_name, ''),
    COALESCE(normalized_name, ''),
    COALESCE(normalized_address, ''),
    COALESCE(business_address, ''),
    COALESCE(corporation_name, ''),
    COUNT(*) AS contact_count
FROM registration_contacts
WHERE name_hash IS NOT NULL
  AND name_hash <> ''
  AND contact_type = ANY($1)
GROUP BY name_hash, full_name, normalized_name, normalized_address, business_address, corporation_name
ORDER BY name_hash, MIN(id)`
}

// ContactVariants returns every distinct variant of eligible contacts.
func (s *PostgresStore) ContactVariants(ctx context.Context, roles []string) ([]ContactVariant, error) {
	rows, err := s.pool.Query(ctx, ContactVariantsSQL(), roles)
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: query contact variants")
	}
	defer rows.Close()

	var out []ContactVariant
	for rows.Next() {
		var v ContactVariant
		if err := rows.Scan(&v.NameHash, &v.FullName, &v.NormalizedName, &v.NormalizedAddress,
			&v.BusinessAddress, &v.CorporationName, &v.ContactCount); err != nil {
			return nil, eris.Wrap(err, "portfolio: scan contact variant")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ExistingFingerprintsSQL lists every fingerprint already covered, either by a
// live portfolio or by an alias left behind by a merge.
func ExistingFingerprintsSQL() string {
	return `
SELECT name_hash FROM owner_portfolios WHERE name_hash IS NOT NULL
UNION
SELECT name_hash FROM portfolio_aliases`
}

// ExistingFingerprints returns the set of covered fingerprints.
func (s *PostgresStore) ExistingFingerprints(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, ExistingFingerprintsSQL())
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: query existing fingerprints")
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "portfolio: scan fingerprint")
		}
		seen[h] = struct{}{}
	}
	return seen, rows.Err()
}

var portfolioInsertColumns = []string{
	"primary_name", "normalized_name", "name_hash",
	"primary_address", "normalized_address", "is_llc",
}

// InsertPortfolios bulk-inserts new portfolios. Rows whose fingerprint already
// exists are ignored, so the returned count is the number actually created.
func (s *PostgresStore) InsertPortfolios(ctx context.Context, ps []Portfolio) (int64, error) {
	rows := make([][]any, len(ps))
	for i, p := range ps {
		rows[i] = []any{
			p.PrimaryName, p.NormalizedName, p.NameHash,
			p.PrimaryAddress, p.NormalizedAddress, boolToInt(p.IsLLC),
		}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "owner_portfolios",
		Columns:      portfolioInsertColumns,
		ConflictKeys: []string{"name_hash"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "portfolio: insert portfolios")
	}
	return n, nil
}

// LinkByFingerprintSQL fills owner_portfolio_id for unlinked owner-role
// contacts whose fingerprint belongs to a live portfolio.
func LinkByFingerprintSQL() string {
	return `
UPDATE registration_contacts rc
SET owner_portfolio_id = op.id
FROM owner_portfolios op
WHERE rc.name_hash = op.name_hash
  AND rc.owner_portfolio_id IS NULL
  AND rc.contact_type = ANY($1)`
}

// LinkByAliasSQL fills owner_portfolio_id for unlinked contacts whose
// fingerprint was merged into another portfolio.
func LinkByAliasSQL() string {
	return `
UPDATE registration_contacts rc
SET owner_portfolio_id = pa.portfolio_id
FROM portfolio_aliases pa
WHERE rc.name_hash = pa.name_hash
  AND rc.owner_portfolio_id IS NULL
  AND rc.contact_type = ANY($1)`
}

// LinkContacts links unlinked contacts and returns how many were linked.
// Existing links are never overwritten.
func (s *PostgresStore) LinkContacts(ctx context.Context, roles []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, LinkByFingerprintSQL(), roles)
	if err != nil {
		return 0, eris.Wrap(err, "portfolio: link contacts by fingerprint")
	}
	n := tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, LinkByAliasSQL(), roles)
	if err != nil {
		return n, eris.Wrap(err, "portfolio: link contacts by alias")
	}
	return n + tag.RowsAffected(), nil
}

// OrphanedFingerprintsSQL lists fingerprints of eligible contacts that no
// portfolio or alias covers.
func OrphanedFingerprintsSQL() string {
	return `
SELECT rc.name_hash, COUNT(*)
FROM registration_contacts rc
WHERE rc.name_hash IS NOT NULL
  AND rc.name_hash <> ''
  AND rc.contact_type = ANY($1)
  AND NOT EXISTS (SELECT 1 FROM owner_portfolios op WHERE op.name_hash = rc.name_hash)
  AND NOT EXISTS (SELECT 1 FROM portfolio_aliases pa WHERE pa.name_hash = rc.name_hash)
GROUP BY rc.name_hash
ORDER BY rc.name_hash`
}

// OrphanedFingerprints returns up to limit orphaned fingerprints and the total
// number of contacts carrying any orphaned fingerprint.
func (s *PostgresStore) OrphanedFingerprints(ctx context.Context, roles []string, limit int) ([]string, int64, error) {
	rows, err := s.pool.Query(ctx, OrphanedFingerprintsSQL(), roles)
	if err != nil {
		return nil, 0, eris.Wrap(err, "portfolio: query orphaned fingerprints")
	}
	defer rows.Close()
	return scanOrphans(rows, limit)
}

// UnlinkedContacts counts eligible contacts that still have no portfolio.
func (s *PostgresStore) UnlinkedContacts(ctx context.Context, roles []string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM registration_contacts
		WHERE name_hash IS NOT NULL AND name_hash <> ''
		  AND owner_portfolio_id IS NULL
		  AND contact_type = ANY($1)`, roles).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "portfolio: count unlinked contacts")
	}
	return n, nil
}

const portfolioColumns = `id, primary_name, COALESCE(normalized_name, ''), COALESCE(name_hash, ''),
	COALESCE(primary_address, ''), COALESCE(normalized_address, ''), is_llc <> 0,
	total_buildings, total_units, total_violations,
	class_a_violations, class_b_violations, class_c_violations,
	created_at, updated_at`

// ListPortfolios returns every portfolio ordered by id.
func (s *PostgresStore) ListPortfolios(ctx context.Context) ([]Portfolio, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+portfolioColumns+` FROM owner_portfolios ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: list portfolios")
	}
	defer rows.Close()

	var out []Portfolio
	for rows.Next() {
		var p Portfolio
		if err := rows.Scan(portfolioDests(&p)...); err != nil {
			return nil, eris.Wrap(err, "portfolio: scan portfolio")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPortfolio fetches a portfolio by id. Returns nil when it does not exist.
func (s *PostgresStore) GetPortfolio(ctx context.Context, id int64) (*Portfolio, error) {
	p := &Portfolio{}
	err := s.pool.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM owner_portfolios WHERE id = $1`, id).
		Scan(portfolioDests(p)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "portfolio: get %d", id)
	}
	return p, nil
}

// CountPortfolios returns the number of live portfolios.
func (s *PostgresStore) CountPortfolios(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM owner_portfolios`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "portfolio: count portfolios")
	}
	return n, nil
}

// Statements applied per merge edge, in order.
const (
	pgLockTargetsSQL = `SELECT id FROM owner_portfolios WHERE id = ANY($1) FOR UPDATE`

	pgRepointSQL = `UPDATE registration_contacts SET owner_portfolio_id = $2 WHERE owner_portfolio_id = $1`

	pgRerouteAliasSQL = `UPDATE portfolio_aliases SET portfolio_id = $2 WHERE portfolio_id = $1`

	pgAliasSourceSQL = `INSERT INTO portfolio_aliases (name_hash, portfolio_id)
		SELECT name_hash, $2 FROM owner_portfolios WHERE id = $1 AND name_hash IS NOT NULL
		ON CONFLICT (name_hash) DO UPDATE SET portfolio_id = EXCLUDED.portfolio_id`

	pgDeleteSourceSQL = `DELETE FROM owner_portfolios WHERE id = $1`

	pgRecordMergeSQL = `INSERT INTO portfolio_merges
		(run_id, source_id, target_id, source_name, target_name, similarity, contacts_repointed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// ApplyMerges applies one batch of edges in a single transaction. Every
// target is row-locked first; a missing target aborts the whole batch with a
// ConcurrentModificationError. A missing source is treated as already applied.
func (s *PostgresStore) ApplyMerges(ctx context.Context, runID string, edges []MergeEdge) (MergeBatchResult, error) {
	var res MergeBatchResult
	if len(edges) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "portfolio: merge: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	present, err := lockTargets(ctx, tx, edges)
	if err != nil {
		return res, err
	}
	if err := checkTargets(edges, present); err != nil {
		return res, err
	}

	for _, e := range edges {
		tag, err := tx.Exec(ctx, pgRepointSQL, e.SourceID, e.TargetID)
		if err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "portfolio: merge: repoint %d -> %d", e.SourceID, e.TargetID)
		}
		repointed := tag.RowsAffected()

		if _, err := tx.Exec(ctx, pgRerouteAliasSQL, e.SourceID, e.TargetID); err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "portfolio: merge: reroute aliases of %d", e.SourceID)
		}
		if _, err := tx.Exec(ctx, pgAliasSourceSQL, e.SourceID, e.TargetID); err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "portfolio: merge: alias %d", e.SourceID)
		}

		tag, err = tx.Exec(ctx, pgDeleteSourceSQL, e.SourceID)
		if err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "portfolio: merge: delete %d", e.SourceID)
		}
		if tag.RowsAffected() == 0 {
			res.Skipped++
			res.ContactsRepointed += repointed
			continue
		}

		if _, err := tx.Exec(ctx, pgRecordMergeSQL, runID, e.SourceID, e.TargetID,
			e.SourceName, e.TargetName, e.Similarity, repointed); err != nil {
			return MergeBatchResult{}, eris.Wrapf(err, "portfolio: merge: record %d -> %d", e.SourceID, e.TargetID)
		}
		res.Applied++
		res.ContactsRepointed += repointed
	}

	if err := tx.Commit(ctx); err != nil {
		return MergeBatchResult{}, eris.Wrap(err, "portfolio: merge: commit tx")
	}
	return res, nil
}

func lockTargets(ctx context.Context, tx pgx.Tx, edges []MergeEdge) (map[int64]bool, error) {
	rows, err := tx.Query(ctx, pgLockTargetsSQL, targetIDs(edges))
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: merge: lock targets")
	}
	defer rows.Close()

	present := make(map[int64]bool, len(edges))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "portfolio: merge: scan target")
		}
		present[id] = true
	}
	return present, rows.Err()
}

// RecomputeStatsSQL rebuilds every portfolio rollup from the current linkage.
// Buildings are de-duplicated per portfolio before units and violations are
// summed, and portfolios with no reachable building are reset to zero.
func RecomputeStatsSQL() string {
	return `
UPDATE owner_portfolios op
SET total_buildings    = s.building_count,
    total_units        = s.unit_count,
    total_violations   = s.violation_count,
    class_a_violations = s.class_a_count,
    class_b_violations = s.class_b_count,
    class_c_violations = s.class_c_count,
    updated_at         = now()
FROM (
    SELECT
        p.id,
        COUNT(reach.bbl)                          AS building_count,
        COALESCE(SUM(b.total_units), 0)           AS unit_count,
        COALESCE(SUM(bs.total_violations), 0)     AS violation_count,
        COALESCE(SUM(bs.class_a_violations), 0)   AS class_a_count,
        COALESCE(SUM(bs.class_b_violations), 0)   AS class_b_count,
        COALESCE(SUM(bs.class_c_violations), 0)   AS class_c_count
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
) s
WHERE op.id = s.id`
}

// RecomputeStats overwrites every portfolio's rollup fields.
func (s *PostgresStore) RecomputeStats(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, RecomputeStatsSQL())
	if err != nil {
		return 0, eris.Wrap(err, "portfolio: recompute stats")
	}
	return tag.RowsAffected(), nil
}

// AcquireLeaseSQL takes the named lease, or steals it once it is older than
// the ttl passed in seconds.
func AcquireLeaseSQL() string {
	return `
INSERT INTO resolution_lock (name, holder, acquired_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE
SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at
WHERE resolution_lock.acquired_at < now() - make_interval(secs => $3)`
}

// AcquireLease reports whether holder now owns the named lease.
func (s *PostgresStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, AcquireLeaseSQL(), name, holder, ttl.Seconds())
	if err != nil {
		return false, eris.Wrapf(err, "portfolio: acquire lease %s", name)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease drops the lease if holder still owns it.
func (s *PostgresStore) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM resolution_lock WHERE name = $1 AND holder = $2`, name, holder); err != nil {
		return eris.Wrapf(err, "portfolio: release lease %s", name)
	}
	return nil
}

// StartRun records the beginning of a pass.
func (s *PostgresStore) StartRun(ctx context.Context, id, kind string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolution_runs (id, kind, status, started_at) VALUES ($1, $2, 'running', now())`,
		id, kind,
	)
	if err != nil {
		return eris.Wrapf(err, "portfolio: start run %s", kind)
	}
	return nil
}

// CompleteRun marks a run complete and stores its counters.
func (s *PostgresStore) CompleteRun(ctx context.Context, id string, metadata map[string]any) error {
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE resolution_runs SET status = 'complete', completed_at = now(), metadata = $2 WHERE id = $1`,
		id, metaJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "portfolio: complete run %s", id)
	}
	return nil
}

// FailRun marks a run failed.
func (s *PostgresStore) FailRun(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE resolution_runs SET status = 'failed', completed_at = now(), error = $2 WHERE id = $1`,
		id, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "portfolio: fail run %s", id)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, kind, status, started_at, completed_at, COALESCE(error, ''), metadata
		FROM resolution_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r    Run
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.StartedAt, &r.CompletedAt, &r.Error, &meta); err != nil {
			return nil, eris.Wrap(err, "portfolio: scan run")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, eris.Wrapf(err, "portfolio: decode metadata of run %s", r.ID)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
