package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/evaluation"
	"github.com/spigell/job-autopilot/internal/profile"
)

//go:embed schema.sql
var schema string

// Postgres stores records in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates missing tables and indexes.
func (db *Postgres) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *Postgres) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *Postgres) SaveProfile(ctx context.Context, p profile.CandidateProfile) error {
	skills, err := json.Marshal(p.Skills)
	if err != nil {
		return fmt.Errorf("failed to marshal skills: %w", err)
	}

	var questionnaire []byte
	if p.Questionnaire != nil {
		if questionnaire, err = json.Marshal(p.Questionnaire); err != nil {
			return fmt.Errorf("failed to marshal questionnaire: %w", err)
		}
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, resume_text, skills, questionnaire, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET resume_text = $2, skills = $3, questionnaire = $4, updated_at = $6`,
		p.UserID, p.ResumeText, skills, questionnaire, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (db *Postgres) Profile(ctx context.Context, userID string) (profile.CandidateProfile, error) {
	var (
		p                     profile.CandidateProfile
		skills, questionnaire []byte
	)

	err := db.pool.QueryRow(ctx,
		`SELECT user_id, resume_text, skills, questionnaire, created_at, updated_at
		 FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.ResumeText, &skills, &questionnaire, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.CandidateProfile{}, errs.NotFound("user", userID)
		}
		return profile.CandidateProfile{}, fmt.Errorf("failed to get profile: %w", err)
	}

	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &p.Skills); err != nil {
			return profile.CandidateProfile{}, fmt.Errorf("failed to decode skills: %w", err)
		}
	}
	if len(questionnaire) > 0 {
		var q profile.Questionnaire
		if err := json.Unmarshal(questionnaire, &q); err != nil {
			return profile.CandidateProfile{}, fmt.Errorf("failed to decode questionnaire: %w", err)
		}
		p.Questionnaire = &q
	}

	return p, nil
}

func (db *Postgres) SaveJobs(ctx context.Context, jobs []catalog.JobListing) error {
	batch := &pgx.Batch{}
	for _, j := range jobs {
		listing, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("failed to marshal job %q: %w", j.ID, err)
		}
		batch.Queue(
			`INSERT INTO jobs (id, listing, updated_at) VALUES ($1, $2, NOW())
			 ON CONFLICT (id) DO UPDATE SET listing = $2, updated_at = NOW()`,
			j.ID, listing,
		)
	}

	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save jobs: %w", err)
	}
	return nil
}

func (db *Postgres) ListJobs(ctx context.Context) ([]catalog.JobListing, error) {
	rows, err := db.pool.Query(ctx, `SELECT listing FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []catalog.JobListing
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		var j catalog.JobListing
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SaveMatches stores a new evaluation snapshot. Snapshots are append-only and
// an empty one is stored too, so it hides the results of earlier runs.
func (db *Postgres) SaveMatches(ctx context.Context, userID string, snapshot evaluation.Snapshot) error {
	if snapshot.EvaluationID == "" {
		return errs.InvalidArgument("snapshot has no evaluation id")
	}

	results := snapshot.Results
	if results == nil {
		results = []evaluation.MatchResult{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal matches: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO match_runs (evaluation_id, user_id, evaluated_at, results)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (evaluation_id) DO NOTHING`,
		snapshot.EvaluationID, userID, snapshot.EvaluatedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save matches: %w", err)
	}
	return nil
}

func (db *Postgres) LatestMatches(ctx context.Context, userID string) ([]evaluation.MatchResult, error) {
	var payload []byte
	err := db.pool.QueryRow(ctx,
		`SELECT results FROM match_runs WHERE user_id = $1
		 ORDER BY evaluated_at DESC LIMIT 1`,
		userID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []evaluation.MatchResult{}, nil
		}
		return nil, fmt.Errorf("failed to get matches: %w", err)
	}

	var results []evaluation.MatchResult
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, fmt.Errorf("failed to decode matches: %w", err)
	}
	return results, nil
}

func (db *Postgres) SaveAttempt(ctx context.Context, a application.Attempt) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO application_attempts
		     (id, user_id, job_id, state, attempt_count, last_error, claimed_by, not_before, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET state = $4, attempt_count = $5, last_error = $6,
		     claimed_by = $7, not_before = $8, updated_at = $10`,
		a.ID, a.UserID, a.JobID, string(a.State), a.AttemptCount, a.LastError, a.ClaimedBy,
		a.NotBefore, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

// ClaimAttempt moves a queued attempt to submitting. Of several processes
// racing for the same row only one sees it still queued.
func (db *Postgres) ClaimAttempt(ctx context.Context, a application.Attempt) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE application_attempts SET state = $2, claimed_by = $3, updated_at = $4
		 WHERE id = $1 AND state = 'queued'`,
		a.ID, string(a.State), a.ClaimedBy, a.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RequeueStale releases a submitting attempt whose heartbeat stopped before staleBefore.
func (db *Postgres) RequeueStale(ctx context.Context, a application.Attempt, staleBefore time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE application_attempts SET state = $2, claimed_by = $3, not_before = $4, updated_at = $5
		 WHERE id = $1 AND state = 'submitting' AND updated_at < $6`,
		a.ID, string(a.State), a.ClaimedBy, a.NotBefore, a.UpdatedAt, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("failed to requeue attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (db *Postgres) Heartbeat(ctx context.Context, id, claimedBy string, at time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE application_attempts SET updated_at = $3
		 WHERE id = $1 AND state = 'submitting' AND claimed_by = $2`,
		id, claimedBy, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to refresh claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (db *Postgres) ListAttempts(ctx context.Context) ([]application.Attempt, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, job_id, state, attempt_count, last_error, claimed_by, not_before, created_at, updated_at
		 FROM application_attempts ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []application.Attempt
	for rows.Next() {
		var (
			a     application.Attempt
			state string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.JobID, &state, &a.AttemptCount, &a.LastError,
			&a.ClaimedBy, &a.NotBefore, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.State = application.State(state)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (db *Postgres) SaveTicket(ctx context.Context, t application.Ticket) error {
	var resolvedAt *time.Time
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		resolvedAt = &at
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO captcha_tickets (id, attempt_id, user_id, job_id, notes, detected_at, resolution, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET resolution = $7, resolved_at = $8`,
		t.ID, t.AttemptID, t.UserID, t.JobID, t.Notes, t.DetectedAt, string(t.Resolution), resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save ticket: %w", err)
	}
	return nil
}

func (db *Postgres) ListTickets(ctx context.Context) ([]application.Ticket, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, attempt_id, user_id, job_id, notes, detected_at, resolution, resolved_at
		 FROM captcha_tickets ORDER BY detected_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []application.Ticket
	for rows.Next() {
		var (
			t          application.Ticket
			resolution string
		)
		if err := rows.Scan(&t.ID, &t.AttemptID, &t.UserID, &t.JobID, &t.Notes, &t.DetectedAt,
			&resolution, &t.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		t.Resolution = application.Decision(resolution)
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}
