// Package repository implements the SQLite report store: submitted
// profiles, finalized ProjectRecords with their TrustScores, and the
// aggregated Candidate Scores. Everything the report and leaderboard
// endpoints read lives here.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/credrank/internal/adapters/sqlite"
	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id           TEXT PRIMARY KEY,
	role         TEXT NOT NULL,
	urls         TEXT NOT NULL,
	other_urls   TEXT NOT NULL DEFAULT '[]',
	submitted_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS projects (
	candidate_id     TEXT NOT NULL,
	url              TEXT NOT NULL,
	record           TEXT NOT NULL,
	trust_value      REAL NOT NULL,
	trust_confidence TEXT NOT NULL,
	finalized_at     INTEGER NOT NULL,
	PRIMARY KEY (candidate_id, url)
);
CREATE TABLE IF NOT EXISTS scores (
	candidate_id TEXT PRIMARY KEY,
	value        REAL NOT NULL,
	unscored     INTEGER NOT NULL DEFAULT 0,
	reason       TEXT NOT NULL DEFAULT '',
	projects     INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_trust ON projects (candidate_id, trust_value DESC);
`

// ErrNotFound is returned when a candidate has no stored data.
var ErrNotFound = errors.New("not found")

// Store is the report store handle.
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// New opens (or creates) the report store at path. The queue and the store
// can share one database file; their tables do not overlap.
func New(path string) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.WithSchema(schema), sqlite.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	return &Store{db: db, log: logger.Named("repository")}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveProfile persists a submitted profile. Profiles are immutable: saving
// an existing id is a no-op, which keeps resubmission idempotent.
func (s *Store) SaveProfile(ctx context.Context, p model.CandidateProfile) error {
	urls, err := json.Marshal(p.URLs)
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}
	other, err := json.Marshal(p.OtherURLs)
	if err != nil {
		return fmt.Errorf("encode other urls: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, role, urls, other_urls, submitted_at) VALUES (?,?,?,?,?)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, string(p.Role), string(urls), string(other), p.SubmittedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

// Profile loads a submitted profile by candidate id.
func (s *Store) Profile(ctx context.Context, id string) (model.CandidateProfile, error) {
	var p model.CandidateProfile
	var role, urls, other string
	var submitted int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, role, urls, other_urls, submitted_at FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &role, &urls, &other, &submitted)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CandidateProfile{}, ErrNotFound
	}
	if err != nil {
		return model.CandidateProfile{}, fmt.Errorf("load profile %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(urls), &p.URLs); err != nil {
		return model.CandidateProfile{}, fmt.Errorf("decode urls for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(other), &p.OtherURLs); err != nil {
		return model.CandidateProfile{}, fmt.Errorf("decode other urls for %s: %w", id, err)
	}
	p.Role = model.Role(role)
	p.SubmittedAt = time.UnixMilli(submitted).UTC()
	return p, nil
}

// SaveRecords replaces the candidate's finalized records and their trust
// scores in one transaction. Records and scores are parallel slices.
func (s *Store) SaveRecords(ctx context.Context, candidateID string, records []model.ProjectRecord, scores []model.TrustScore) error {
	if len(records) != len(scores) {
		return fmt.Errorf("records/scores length mismatch: %d vs %d", len(records), len(scores))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM projects WHERE candidate_id = ?`, candidateID); err != nil {
		return fmt.Errorf("clear records for %s: %w", candidateID, err)
	}
	for i := range records {
		blob, err := json.Marshal(records[i])
		if err != nil {
			return fmt.Errorf("encode record %s: %w", records[i].URL, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projects (candidate_id, url, record, trust_value, trust_confidence, finalized_at)
			VALUES (?,?,?,?,?,?)`,
			candidateID, records[i].URL, string(blob),
			scores[i].Value, string(scores[i].Confidence),
			records[i].FinalizedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("save record %s: %w", records[i].URL, err)
		}
	}
	return tx.Commit()
}

// Records loads the candidate's records and scores ordered by trust
// descending.
func (s *Store) Records(ctx context.Context, candidateID string) ([]model.ProjectRecord, []model.TrustScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record, trust_value, trust_confidence
		FROM projects WHERE candidate_id = ?
		ORDER BY trust_value DESC, url ASC`, candidateID)
	if err != nil {
		return nil, nil, fmt.Errorf("load records for %s: %w", candidateID, err)
	}
	defer rows.Close()

	var records []model.ProjectRecord
	var scores []model.TrustScore
	for rows.Next() {
		var blob, confidence string
		var value float64
		if err := rows.Scan(&blob, &value, &confidence); err != nil {
			return nil, nil, fmt.Errorf("scan record: %w", err)
		}
		var rec model.ProjectRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			return nil, nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
		scores = append(scores, model.TrustScore{Value: value, Confidence: model.Confidence(confidence)})
	}
	return records, scores, rows.Err()
}

// TopProjects returns up to limit project URLs by trust score.
func (s *Store) TopProjects(ctx context.Context, candidateID string, limit int) ([]string, error) {
	if limit < 1 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT url FROM projects WHERE candidate_id = ?
		ORDER BY trust_value DESC, url ASC LIMIT ?`, candidateID, limit)
	if err != nil {
		return nil, fmt.Errorf("load top projects for %s: %w", candidateID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		out = append(out, url)
	}
	return out, rows.Err()
}

// SaveScore upserts the candidate's aggregate score.
func (s *Store) SaveScore(ctx context.Context, candidateID string, score model.CandidateScore) error {
	unscored := 0
	if score.Unscored {
		unscored = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scores (candidate_id, value, unscored, reason, projects, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (candidate_id) DO UPDATE SET
			value = excluded.value,
			unscored = excluded.unscored,
			reason = excluded.reason,
			projects = excluded.projects,
			updated_at = excluded.updated_at`,
		candidateID, score.Value, unscored, score.Reason, score.Projects,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save score for %s: %w", candidateID, err)
	}
	return nil
}

// Score loads the candidate's aggregate score.
func (s *Store) Score(ctx context.Context, candidateID string) (model.CandidateScore, error) {
	var score model.CandidateScore
	var unscored int
	err := s.db.QueryRowContext(ctx,
		`SELECT value, unscored, reason, projects FROM scores WHERE candidate_id = ?`,
		candidateID,
	).Scan(&score.Value, &unscored, &score.Reason, &score.Projects)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CandidateScore{}, ErrNotFound
	}
	if err != nil {
		return model.CandidateScore{}, fmt.Errorf("load score for %s: %w", candidateID, err)
	}
	score.Unscored = unscored == 1
	return score, nil
}

// ScoredCandidate is one row of the scored-candidates listing: everything
// needed to place the candidate back into its rating pool.
type ScoredCandidate struct {
	CandidateID string
	Role        model.Role
	Score       float64
}

// ScoredCandidates lists every candidate with a usable aggregate score,
// joined with its role, in score-completion order. The rating pools are
// rebuilt from this listing at startup.
func (s *Store) ScoredCandidates(ctx context.Context) ([]ScoredCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.candidate_id, p.role, sc.value
		FROM scores sc JOIN profiles p ON p.id = sc.candidate_id
		WHERE sc.unscored = 0
		ORDER BY sc.updated_at ASC, sc.candidate_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load scored candidates: %w", err)
	}
	defer rows.Close()

	var out []ScoredCandidate
	for rows.Next() {
		var c ScoredCandidate
		var role string
		if err := rows.Scan(&c.CandidateID, &role, &c.Score); err != nil {
			return nil, fmt.Errorf("scan scored candidate: %w", err)
		}
		c.Role = model.Role(role)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CandidateCount returns the number of stored profiles.
func (s *Store) CandidateCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}
