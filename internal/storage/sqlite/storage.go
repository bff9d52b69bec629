package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/voxdesk/internal/store"
	"github.com/yegors/voxdesk/pkg/logger"
	_ "modernc.org/sqlite"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// Storage is a SQLite-backed TaskStore and CalendarStore
type Storage struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewStorage opens (or creates) the database at dbPath
func NewStorage(dbPath string, log *logger.Logger) (*Storage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		String("path", dbPath))

	// Open the database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	s := &Storage{
		db:     db,
		logger: storageLogger,
		now:    time.Now,
	}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initDB initializes the database tables
func (s *Storage) initDB() error {
	s.logger.Info("Initializing database schema")

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_lists (
			name TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create task_lists table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			list_name TEXT NOT NULL REFERENCES task_lists(name),
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			completed_at TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(list_name, position)`)
	if err != nil {
		return fmt.Errorf("failed to create list index: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create calendar_events table: %w", err)
	}

	return nil
}

// Lists returns all lists with their tasks in creation order
func (s *Storage) Lists(ctx context.Context) ([]store.TaskList, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM task_lists ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query task lists: %w", err)
	}
	var lists []store.TaskList
	index := map[string]int{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task list: %w", err)
		}
		index[name] = len(lists)
		lists = append(lists, store.TaskList{Name: name, Tasks: []store.Task{}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task lists: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, list_name, text, completed, created_at, completed_at
		FROM tasks
		ORDER BY list_name, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t store.Task
		var listName, createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&t.ID, &listName, &t.Text, &t.Completed, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if completedAt.Valid {
			ts, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse completed_at: %w", err)
			}
			t.CompletedAt = &ts
		}
		if i, ok := index[listName]; ok {
			lists[i].Tasks = append(lists[i].Tasks, t)
		}
	}
	return lists, rows.Err()
}

// EnsureList creates the list when it does not exist
func (s *Storage) EnsureList(ctx context.Context, name string) error {
	return s.ensureList(ctx, s.db, name)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Storage) ensureList(ctx context.Context, db execer, name string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_lists (name, position, created_at)
		VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM task_lists), ?)`,
		name, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create task list: %w", err)
	}
	return nil
}

// AppendTasks adds tasks to the end of list in one transaction
func (s *Storage) AppendTasks(ctx context.Context, list string, texts []string) ([]store.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureList(ctx, tx, list); err != nil {
		return nil, err
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE list_name = ?`, list).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to read task position: %w", err)
	}

	added := make([]store.Task, 0, len(texts))
	for i, text := range texts {
		t := store.Task{ID: uuid.NewString(), Text: text, CreatedAt: s.now().UTC()}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, list_name, position, text, completed, created_at)
			VALUES (?, ?, ?, ?, 0, ?)`,
			t.ID, list, next+i, t.Text, t.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return nil, fmt.Errorf("failed to insert task: %w", err)
		}
		added = append(added, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tasks: %w", err)
	}
	return added, nil
}

// CompleteTask marks a task in list as completed
func (s *Storage) CompleteTask(ctx context.Context, list, taskID string) (store.Task, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1, completed_at = ? WHERE id = ? AND list_name = ?`,
		now.Format(time.RFC3339Nano), taskID, list)
	if err != nil {
		return store.Task{}, fmt.Errorf("failed to complete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Task{}, fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}

	var t store.Task
	var createdAt string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, text, completed, created_at FROM tasks WHERE id = ?`, taskID).
		Scan(&t.ID, &t.Text, &t.Completed, &createdAt)
	if err != nil {
		return store.Task{}, fmt.Errorf("failed to reload task: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return store.Task{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	t.CompletedAt = &now
	return t, nil
}

// CreateEvent stores a calendar event, assigning an id when missing
func (s *Storage) CreateEvent(ctx context.Context, ev store.CalendarEvent) (store.CalendarEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (id, title, start_time, end_time, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Title,
		ev.Start.UTC().Format(time.RFC3339),
		ev.End.UTC().Format(time.RFC3339),
		ev.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return store.CalendarEvent{}, fmt.Errorf("failed to insert calendar event: %w", err)
	}
	s.logger.Debug("Stored calendar event", String("id", ev.ID), String("title", ev.Title))
	return ev, nil
}

// Events returns all calendar events ordered by start time
func (s *Storage) Events(ctx context.Context) ([]store.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, start_time, end_time, created_at FROM calendar_events ORDER BY start_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar events: %w", err)
	}
	defer rows.Close()

	var out []store.CalendarEvent
	for rows.Next() {
		var ev store.CalendarEvent
		var start, end, created string
		if err := rows.Scan(&ev.ID, &ev.Title, &start, &end, &created); err != nil {
			return nil, fmt.Errorf("failed to scan calendar event: %w", err)
		}
		if ev.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return nil, fmt.Errorf("failed to parse start_time: %w", err)
		}
		if ev.End, err = time.Parse(time.RFC3339, end); err != nil {
			return nil, fmt.Errorf("failed to parse end_time: %w", err)
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
