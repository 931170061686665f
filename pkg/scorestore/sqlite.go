package scorestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" //nolint:revive // database/sql driver registration

	"github.com/manytask/checker/pkg/course"
)

const schema = `
CREATE TABLE IF NOT EXISTS scores (
	course_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	task_id    TEXT NOT NULL,
	score      INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (course_id, user_id, task_id)
);
`

// SQLiteStore is a cached ScoreStore backed by a modernc.org/sqlite
// database. Writes go through a per-cell mutex and a transaction so two
// concurrent submissions for the same (course, user, task) never race; reads
// are served from an in-memory cache that's invalidated by every successful
// write and otherwise refreshed on a fixed interval.
type SQLiteStore struct {
	db    *sql.DB
	model *course.Model

	cacheTTL time.Duration

	mu        sync.RWMutex
	cache     map[string]map[string]map[string]Record // course -> user -> task
	cacheAt   map[string]time.Time
	cellLocks map[string]*sync.Mutex
	cellMu    sync.Mutex
}

// Open creates (or attaches to) a sqlite database at path and ensures the
// scores table exists. model supplies task metadata for MaxScoreStarted and
// GetStats; it may be updated in place by the caller between calls.
func Open(path string, model *course.Model, cacheTTL time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("scorestore: open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("scorestore: create schema: %w", err)
	}

	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}

	return &SQLiteStore{
		db:        db,
		model:     model,
		cacheTTL:  cacheTTL,
		cache:     make(map[string]map[string]map[string]Record),
		cacheAt:   make(map[string]time.Time),
		cellLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Close implements ScoreStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) cellLock(key string) *sync.Mutex {
	s.cellMu.Lock()
	defer s.cellMu.Unlock()

	m, ok := s.cellLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.cellLocks[key] = m
	}

	return m
}

// StoreScore implements ScoreStore.
func (s *SQLiteStore) StoreScore(ctx context.Context, courseID, userID, taskID string, scorePercent float64, taskScore int, bonus bool, submitTime time.Time, merge MergeFunc) (Record, error) {
	if merge == nil {
		merge = DefaultMerge
	}

	cellKey := courseID + "\x00" + userID + "\x00" + taskID

	lock := s.cellLock(cellKey)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("scorestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var (
		existingScore int
		updatedAt     string
	)

	row := tx.QueryRowContext(ctx, `SELECT score, updated_at FROM scores WHERE course_id=? AND user_id=? AND task_id=?`, courseID, userID, taskID)

	old := Record{}

	switch err := row.Scan(&existingScore, &updatedAt); {
	case err == nil:
		old.Score = existingScore

		if t, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
			old.LastSubmitTime = t
		}
	case err == sql.ErrNoRows:
		// no prior record; old stays zero-valued
	default:
		return Record{}, fmt.Errorf("scorestore: read existing score: %w", err)
	}

	next := merge(old, scorePercent, taskScore, bonus, submitTime)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scores (course_id, user_id, task_id, score, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (course_id, user_id, task_id) DO UPDATE SET score=excluded.score, updated_at=excluded.updated_at
	`, courseID, userID, taskID, next.Score, next.LastSubmitTime.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("scorestore: write score: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("scorestore: commit: %w", err)
	}

	s.invalidate(courseID)

	return next, nil
}

func (s *SQLiteStore) invalidate(courseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, courseID)
	delete(s.cacheAt, courseID)
}

func (s *SQLiteStore) refresh(ctx context.Context, courseID string) (map[string]map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, task_id, score, updated_at FROM scores WHERE course_id=?`, courseID)
	if err != nil {
		return nil, fmt.Errorf("scorestore: query course scores: %w", err)
	}
	defer rows.Close()

	byUser := make(map[string]map[string]Record)

	for rows.Next() {
		var (
			userID, taskID, updatedAt string
			score                     int
		)

		if err := rows.Scan(&userID, &taskID, &score, &updatedAt); err != nil {
			return nil, fmt.Errorf("scorestore: scan row: %w", err)
		}

		t, _ := time.Parse(time.RFC3339Nano, updatedAt)

		if byUser[userID] == nil {
			byUser[userID] = make(map[string]Record)
		}

		byUser[userID][taskID] = Record{Score: score, LastSubmitTime: t}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scorestore: iterate rows: %w", err)
	}

	s.mu.Lock()
	s.cache[courseID] = byUser
	s.cacheAt[courseID] = time.Now()
	s.mu.Unlock()

	return byUser, nil
}

func (s *SQLiteStore) cached(ctx context.Context, courseID string) (map[string]map[string]Record, error) {
	s.mu.RLock()
	byUser, ok := s.cache[courseID]
	at := s.cacheAt[courseID]
	s.mu.RUnlock()

	if ok && time.Since(at) < s.cacheTTL {
		return byUser, nil
	}

	return s.refresh(ctx, courseID)
}

// GetAllScores implements ScoreStore.
func (s *SQLiteStore) GetAllScores(ctx context.Context, courseID string) (map[string]map[string]Record, error) {
	return s.cached(ctx, courseID)
}

// GetScores implements ScoreStore.
func (s *SQLiteStore) GetScores(ctx context.Context, courseID, userID string) (map[string]Record, error) {
	all, err := s.cached(ctx, courseID)
	if err != nil {
		return nil, err
	}

	return all[userID], nil
}

// GetStats implements ScoreStore.
func (s *SQLiteStore) GetStats(ctx context.Context, courseID string) ([]Stats, error) {
	all, err := s.cached(ctx, courseID)
	if err != nil {
		return nil, err
	}

	enrolled := len(all)

	counts := make(map[string]int)
	for _, tasks := range all {
		for taskID, rec := range tasks {
			if rec.Score > 0 {
				counts[taskID]++
			}
		}
	}

	stats := make([]Stats, 0, len(counts))

	for _, task := range s.model.AllTasks() {
		nz := counts[task.Name]

		fraction := 0.0
		if enrolled > 0 {
			fraction = float64(nz) / float64(enrolled)
		}

		stats = append(stats, Stats{
			TaskID:            task.Name,
			NonZeroFraction:   fraction,
			EnrolledCount:     enrolled,
			NonZeroScoreCount: nz,
		})
	}

	return stats, nil
}

// MaxScoreStarted implements ScoreStore.
func (s *SQLiteStore) MaxScoreStarted(_ context.Context, _ string, now time.Time) (int, error) {
	total := 0

	for _, g := range s.model.Groups {
		if !g.Enabled || !g.IsOpen(now) {
			continue
		}

		for _, t := range g.Tasks {
			if !t.Enabled || t.Bonus {
				continue
			}

			total += t.Score
		}
	}

	return total, nil
}
