package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	dbconfig "studyroom/pkg/database"
	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

const (
	writeQueueSize = 100
	writeTimeout   = 30 * time.Second
	retryDelay     = 5 * time.Second
)

// Manager implements the DatabaseManager interface on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       logrus.FieldLogger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	loopDone     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
	retryDelay   time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine. Migrations
// are applied separately through pkg/database.MigrationManager.
func NewManager(config *dbconfig.Config, logger logrus.FieldLogger) (*Manager, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.WithField("component", "database"),
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
		loopDone:     make(chan struct{}),
		retryDelay:   retryDelay,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.loopDone)

	for {
		select {
		case op := <-m.writeChannel:
			m.run(op)

		case <-m.shutdown:
			// Writes queued before shutdown still complete
			for {
				select {
				case op := <-m.writeChannel:
					m.run(op)
				default:
					m.logger.Debug("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// run executes op, retrying once after a pause when SQLite reports contention
func (m *Manager) run(op writeOperation) {
	err := op.operation(m.db)
	if err != nil && isRetryable(err) {
		m.logger.WithError(err).Warnf("Database write failed, retrying in %s", m.retryDelay)
		time.Sleep(m.retryDelay)
		err = op.operation(m.db)
		if err != nil {
			m.logger.WithError(err).Error("Database write failed after retry")
		}
	}
	op.result <- err
}

// isRetryable reports whether a second attempt could succeed
func isRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerShuttingDown
	}

	select {
	case err := <-result:
		return err
	case <-m.loopDone:
		// The loop drains the queue before exiting, so a result may be waiting
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerShuttingDown
		}
	}
}

// Role returns the member's role, or RoleNone when no membership row exists
func (m *Manager) Role(ctx context.Context, groupID, userID string) (types.Role, error) {
	var role string
	err := m.db.QueryRowContext(ctx,
		`SELECT role FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RoleNone, nil
	}
	if err != nil {
		return types.RoleNone, fmt.Errorf("failed to query role: %w", err)
	}
	return types.ParseRole(role), nil
}

// UpsertMember seeds or changes a role; RoleNone removes the membership
func (m *Manager) UpsertMember(ctx context.Context, groupID, userID string, role types.Role) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if !role.IsMember() {
			if _, err := db.ExecContext(ctx,
				`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`,
				groupID, userID,
			); err != nil {
				return fmt.Errorf("failed to delete member: %w", err)
			}
			return nil
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, role)
			VALUES (?, ?, ?)
			ON CONFLICT (group_id, user_id) DO UPDATE SET role = excluded.role
		`, groupID, userID, string(role))
		if err != nil {
			return fmt.Errorf("failed to upsert member: %w", err)
		}
		return nil
	})
}

// TouchMember records last activity; unknown members are ignored
func (m *Manager) TouchMember(ctx context.Context, groupID, userID string, at time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE group_members SET last_active = ? WHERE group_id = ? AND user_id = ?`,
			at.UTC(), groupID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to touch member: %w", err)
		}
		return nil
	})
}

// LastActive returns when the member was last seen, if ever
func (m *Manager) LastActive(ctx context.Context, groupID, userID string) (time.Time, bool, error) {
	var at sql.NullTime
	err := m.db.QueryRowContext(ctx,
		`SELECT last_active FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, interfaces.ErrNotFound
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last active: %w", err)
	}
	return at.Time, at.Valid, nil
}

// CreateMessage stores a chat message in the database
func (m *Manager) CreateMessage(ctx context.Context, msg *types.ChatMessage) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (id, group_id, session_id, user_id, username, text, type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			msg.ID,
			msg.GroupID,
			msg.SessionID,
			msg.UserID,
			msg.Username,
			msg.Text,
			msg.Type,
			msg.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// GetSessionMessages returns the latest limit messages of a session in
// insertion order; limit <= 0 returns all of them
func (m *Manager) GetSessionMessages(ctx context.Context, groupID, sessionID string, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	// FUNCTIONAL DISCOVERY: Newest-first window, re-sorted by seq for display
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, group_id, session_id, user_id, username, text, type, created_at
		FROM (
			SELECT seq, id, group_id, session_id, user_id, username, text, type, created_at
			FROM chat_messages
			WHERE group_id = ? AND session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, groupID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.GroupID,
			&msg.SessionID,
			&msg.UserID,
			&msg.Username,
			&msg.Text,
			&msg.Type,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// AddSolver creates the progress record if needed and adds userID to its
// solvers in one write transaction. Repeating it changes nothing.
// ARCHITECTURAL DISCOVERY: Running on the writer goroutine inside a single
// transaction makes concurrent solvers of the same problem safe
func (m *Manager) AddSolver(ctx context.Context, groupID, problemID, userID string) (*types.GroupProgress, error) {
	var progress *types.GroupProgress
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_progress (group_id, problem_id, completed_at)
			VALUES (?, ?, ?)
			ON CONFLICT (group_id, problem_id) DO NOTHING
		`, groupID, problemID, now); err != nil {
			return fmt.Errorf("failed to upsert progress: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_progress_solvers (group_id, problem_id, user_id, solved_at)
			VALUES (?, ?, ?, ?)
		`, groupID, problemID, userID, now); err != nil {
			return fmt.Errorf("failed to add solver: %w", err)
		}

		p, err := readProgress(ctx, tx, groupID, problemID)
		if err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit progress: %w", err)
		}
		progress = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// GetProgress returns ErrNotFound when nobody has solved the problem yet
func (m *Manager) GetProgress(ctx context.Context, groupID, problemID string) (*types.GroupProgress, error) {
	return readProgress(ctx, m.db, groupID, problemID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readProgress(ctx context.Context, q queryer, groupID, problemID string) (*types.GroupProgress, error) {
	progress := &types.GroupProgress{GroupID: groupID, ProblemID: problemID}
	err := q.QueryRowContext(ctx,
		`SELECT completed_at FROM group_progress WHERE group_id = ? AND problem_id = ?`,
		groupID, problemID,
	).Scan(&progress.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM group_progress_solvers
		WHERE group_id = ? AND problem_id = ?
		ORDER BY rowid ASC
	`, groupID, problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query solvers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	progress.SolvedBy = []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan solver: %w", err)
		}
		progress.SolvedBy = append(progress.SolvedBy, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating solver rows: %w", err)
	}
	return progress, nil
}

// ProblemTitle returns ErrNotFound for unknown problems
func (m *Manager) ProblemTitle(ctx context.Context, problemID string) (string, error) {
	var title string
	err := m.db.QueryRowContext(ctx, `SELECT title FROM problems WHERE id = ?`, problemID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", interfaces.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query problem: %w", err)
	}
	return title, nil
}

// UpsertProblem seeds or renames a problem
func (m *Manager) UpsertProblem(ctx context.Context, problemID, title string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO problems (id, title, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at
		`, problemID, title, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert problem: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
// FUNCTIONAL DISCOVERY: Health check validates both connectivity and basic operations
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	// TECHNICAL DISCOVERY: Prevent multiple close operations
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
