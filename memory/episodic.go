package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/evolvai/evolv/core"
)

// EpisodicLog is the append-only store of episodes, backed by SQLite with
// JSON columns for the plan, results, context and metrics. Secondary
// indexes are maintained in parallel tables: tokenized goal terms
// (stopwords removed) and task types, both as posting lists.
//
// Concurrency: a single writer (serialized by writeMu, matching SQLite's
// single-writer model under WAL) with concurrent readers.
type EpisodicLog struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  core.Logger
}

// EpisodeFilter narrows episode listing. Zero values are ignored.
type EpisodeFilter struct {
	State        core.ExecutionState
	SessionID    string
	GoalContains string
	Band         string
	From         time.Time
	To           time.Time
}

const episodicSchema = `
CREATE TABLE IF NOT EXISTS episodes (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	goal           TEXT NOT NULL,
	state          TEXT NOT NULL,
	band           TEXT NOT NULL,
	start_time     INTEGER NOT NULL,
	end_time       INTEGER NOT NULL,
	duration_ns    INTEGER NOT NULL,
	success_rate   REAL NOT NULL,
	evaluation     REAL NOT NULL DEFAULT 0,
	system_version TEXT NOT NULL,
	checksum       TEXT NOT NULL,
	plan_json      TEXT NOT NULL,
	results_json   TEXT NOT NULL,
	context_json   TEXT,
	metrics_json   TEXT NOT NULL,
	feedback_json  TEXT
);
CREATE INDEX IF NOT EXISTS idx_episodes_state   ON episodes(state);
CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
CREATE INDEX IF NOT EXISTS idx_episodes_start   ON episodes(start_time);
CREATE INDEX IF NOT EXISTS idx_episodes_band    ON episodes(band);

CREATE TABLE IF NOT EXISTS episode_terms (
	term       TEXT NOT NULL,
	episode_id TEXT NOT NULL,
	PRIMARY KEY (term, episode_id)
);
CREATE INDEX IF NOT EXISTS idx_terms_term ON episode_terms(term);

CREATE TABLE IF NOT EXISTS episode_task_types (
	task_type  TEXT NOT NULL,
	episode_id TEXT NOT NULL,
	PRIMARY KEY (task_type, episode_id)
);
CREATE INDEX IF NOT EXISTS idx_task_types_type ON episode_task_types(task_type);
`

// NewEpisodicLog opens (or creates) the episode database at uri. Use
// ":memory:" for tests.
func NewEpisodicLog(uri string, logger core.Logger) (*EpisodicLog, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, &core.FrameworkError{Op: "episodic.Open", Kind: "store", ID: uri, Err: err}
	}
	// modernc's driver is not safe for concurrent writes on multiple
	// connections; WAL gives concurrent readers on the same file.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &core.FrameworkError{Op: "episodic.Open", Kind: "store", ID: uri, Err: err}
		}
	}
	if _, err := db.Exec(episodicSchema); err != nil {
		db.Close()
		return nil, &core.FrameworkError{Op: "episodic.Open", Kind: "store", ID: uri, Err: err}
	}
	return &EpisodicLog{db: db, logger: logger}, nil
}

// Append writes one episode. The episode must already be sealed; the log
// re-verifies the checksum and temporal consistency before accepting it.
// Appending an existing ID fails: episodes are immutable.
func (l *EpisodicLog) Append(ctx context.Context, e *core.Episode) (string, error) {
	if e.ID == "" {
		e.ID = core.NewEpisodeID(e.StartTime, e.Goal)
	}
	if e.Checksum == "" {
		e.Seal()
	}
	if err := e.Verify(); err != nil {
		return "", err
	}

	planJSON, err := json.Marshal(e.Plan)
	if err != nil {
		return "", &core.FrameworkError{Op: "episodic.Append", Kind: "store", ID: e.ID, Err: err}
	}
	resultsJSON, err := json.Marshal(e.Results)
	if err != nil {
		return "", &core.FrameworkError{Op: "episodic.Append", Kind: "store", ID: e.ID, Err: err}
	}
	contextJSON, _ := json.Marshal(e.Context)
	metricsJSON, _ := json.Marshal(e.Metrics)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &core.FrameworkError{Op: "episodic.Append", Kind: "store", ID: e.ID, Err: core.ErrStoreWrite, Message: err.Error()}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episodes (
			id, session_id, goal, state, band, start_time, end_time,
			duration_ns, success_rate, evaluation, system_version, checksum,
			plan_json, results_json, context_json, metrics_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Goal, string(e.State), e.PerformanceBand(),
		e.StartTime.UnixNano(), e.EndTime.UnixNano(),
		int64(e.TotalDuration), e.Metrics.SuccessRate, e.Evaluation,
		e.SystemVersion, e.Checksum,
		string(planJSON), string(resultsJSON), string(contextJSON), string(metricsJSON),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", &core.FrameworkError{Op: "episodic.Append", Kind: "store", ID: e.ID, Err: core.ErrStoreWrite, Message: "episode already exists"}
		}
		return "", &core.FrameworkError{Op: "episodic.Append", Kind: "store", ID: e.ID, Err: core.ErrStoreWrite, Message: err.Error()}
	}

	for _, term := range goalTerms(e.Goal) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO episode_terms (term, episode_id) VALUES (?, ?)`, term, e.ID); err != nil {
			return "", &core.FrameworkError{Op: "episodic.Append", Kind: "store", ID: e.ID, Err: core.ErrStoreWrite, Message: err.Error()}
		}
	}
	seen := map[string]bool{}
	for _, t := range e.Plan.Tasks {
		if seen[t.Type] {
			continue
		}
		seen[t.Type] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO episode_task_types (task_type, episode_id) VALUES (?, ?)`, t.Type, e.ID); err != nil {
			return "", &core.FrameworkError{Op: "episodic.Append", Kind: "store", ID: e.ID, Err: core.ErrStoreWrite, Message: err.Error()}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", &core.FrameworkError{Op: "episodic.Append", Kind: "store", ID: e.ID, Err: core.ErrStoreWrite, Message: err.Error()}
	}

	l.logger.Debug("Episode appended", map[string]interface{}{
		"operation":  "episode_append",
		"episode_id": e.ID,
		"state":      string(e.State),
		"band":       e.PerformanceBand(),
	})
	return e.ID, nil
}

// AttachFeedback records user feedback for an episode. Feedback sits
// outside the checksummed invariant fields, so this is the one permitted
// post-append write.
func (l *EpisodicLog) AttachFeedback(ctx context.Context, id string, fb core.Feedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	res, err := l.db.ExecContext(ctx, `UPDATE episodes SET feedback_json = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return &core.FrameworkError{Op: "episodic.AttachFeedback", Kind: "store", ID: id, Err: core.ErrStoreWrite, Message: err.Error()}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.FrameworkError{Op: "episodic.AttachFeedback", Kind: "store", ID: id, Message: "episode not found"}
	}
	return nil
}

// Get reads one episode and verifies its integrity.
func (l *EpisodicLog) Get(ctx context.Context, id string) (*core.Episode, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, session_id, goal, state, start_time, end_time, duration_ns,
		       evaluation, system_version, checksum, plan_json, results_json,
		       context_json, metrics_json, feedback_json
		FROM episodes WHERE id = ?`, id)
	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, &core.FrameworkError{Op: "episodic.Get", Kind: "store", ID: id, Message: "episode not found"}
	}
	if err != nil {
		return nil, &core.FrameworkError{Op: "episodic.Get", Kind: "store", ID: id, Err: err}
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns episodes matching the filter, newest first. A limit of
// zero or less means unbounded: analysis callers need the full window.
// Episodes that fail integrity verification are skipped and logged,
// never returned.
func (l *EpisodicLog) List(ctx context.Context, filter EpisodeFilter, limit int) ([]*core.Episode, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Band != "" {
		where = append(where, "band = ?")
		args = append(args, filter.Band)
	}
	if !filter.From.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		where = append(where, "start_time <= ?")
		args = append(args, filter.To.UnixNano())
	}
	if terms := goalTerms(filter.GoalContains); len(terms) > 0 {
		// Posting-list intersection: an episode matches when every query
		// term appears in its tokenized goal.
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(terms)), ",")
		where = append(where, fmt.Sprintf(
			`id IN (SELECT episode_id FROM episode_terms WHERE term IN (%s)
			 GROUP BY episode_id HAVING COUNT(DISTINCT term) = %d)`,
			placeholders, len(terms)))
		for _, t := range terms {
			args = append(args, t)
		}
	}

	query := `
		SELECT id, session_id, goal, state, start_time, end_time, duration_ns,
		       evaluation, system_version, checksum, plan_json, results_json,
		       context_json, metrics_json, feedback_json
		FROM episodes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return l.queryEpisodes(ctx, query, args...)
}

// ListByTaskType returns episodes whose plan contains the given task
// type. A limit of zero or less means unbounded.
func (l *EpisodicLog) ListByTaskType(ctx context.Context, taskType string, limit int) ([]*core.Episode, error) {
	query := `
		SELECT e.id, e.session_id, e.goal, e.state, e.start_time, e.end_time,
		       e.duration_ns, e.evaluation, e.system_version, e.checksum,
		       e.plan_json, e.results_json, e.context_json, e.metrics_json,
		       e.feedback_json
		FROM episodes e
		JOIN episode_task_types tt ON tt.episode_id = e.id
		WHERE tt.task_type = ?
		ORDER BY e.start_time DESC`
	args := []interface{}{taskType}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return l.queryEpisodes(ctx, query, args...)
}

// Count returns the number of stored episodes.
func (l *EpisodicLog) Count(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (l *EpisodicLog) Close() error {
	return l.db.Close()
}

func (l *EpisodicLog) queryEpisodes(ctx context.Context, query string, args ...interface{}) ([]*core.Episode, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &core.FrameworkError{Op: "episodic.List", Kind: "store", Err: err}
	}
	defer rows.Close()

	var out []*core.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, &core.FrameworkError{Op: "episodic.List", Kind: "store", Err: err}
		}
		if err := e.Verify(); err != nil {
			l.logger.Warn("Skipping episode with failed integrity check", map[string]interface{}{
				"operation":  "episode_list",
				"episode_id": e.ID,
				"error":      err.Error(),
			})
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row rowScanner) (*core.Episode, error) {
	var (
		e                        core.Episode
		state                    string
		startNs, endNs, duration int64
		planJSON, resultsJSON    string
		contextJSON, metricsJSON sql.NullString
		feedbackJSON             sql.NullString
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.Goal, &state, &startNs, &endNs,
		&duration, &e.Evaluation, &e.SystemVersion, &e.Checksum, &planJSON,
		&resultsJSON, &contextJSON, &metricsJSON, &feedbackJSON)
	if err != nil {
		return nil, err
	}
	e.State = core.ExecutionState(state)
	e.StartTime = time.Unix(0, startNs)
	e.EndTime = time.Unix(0, endNs)
	e.TotalDuration = time.Duration(duration)
	if err := json.Unmarshal([]byte(planJSON), &e.Plan); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultsJSON), &e.Results); err != nil {
		return nil, err
	}
	if contextJSON.Valid && contextJSON.String != "" && contextJSON.String != "null" {
		if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
			return nil, err
		}
	}
	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &e.Metrics); err != nil {
			return nil, err
		}
	}
	if feedbackJSON.Valid && feedbackJSON.String != "" {
		fb := &core.Feedback{}
		if err := json.Unmarshal([]byte(feedbackJSON.String), fb); err == nil {
			e.Feedback = fb
		}
	}
	return &e, nil
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "to": true,
	"in": true, "on": true, "for": true, "with": true, "about": true,
	"is": true, "are": true, "be": true, "it": true, "this": true, "that": true,
}

// goalTerms tokenizes a goal for the term posting list, dropping stopwords.
func goalTerms(goal string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range tokenize(goal) {
		if stopwords[tok] || len(tok) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
