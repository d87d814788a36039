package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"tasktracker/domain"
)

//go:embed schema.sql
var schemaSQL string

// sqliteDriver is go-sqlite3 with utf8_lower registered on every connection.
// SQLite's LOWER only folds ASCII.
const sqliteDriver = "sqlite3_tasktracker"

func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("utf8_lower", strings.ToLower, true)
		},
	})
}

// SQLStore persists tasks and reference data in SQLite.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL creates or opens the SQLite database at path and applies the schema.
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectTasks = `
SELECT t.id, t.title, t.description, t.due_date, t.status,
       t.category_id, t.priority_id, t.created_at, t.updated_at,
       c.name, p.level
FROM tasks t
JOIN categories c ON c.id = t.category_id
JOIN priorities p ON p.id = t.priority_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                    domain.Task
		due                  string
		status               string
		createdAt, updatedAt int64
		catName, priLevel    string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &due, &status,
		&t.CategoryID, &t.PriorityID, &createdAt, &updatedAt, &catName, &priLevel); err != nil {
		return domain.Task{}, err
	}
	d, err := domain.ParseDate(due)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %d due date: %w", t.ID, err)
	}
	t.DueDate = d
	t.Status = domain.Status(status)
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	t.Category = &domain.Category{ID: t.CategoryID, Name: catName}
	t.Priority = &domain.Priority{ID: t.PriorityID, Level: priLevel}
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreateTask inserts t and returns it with its id and references resolved.
func (s *SQLStore) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (title, description, due_date, status, category_id, priority_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Description, t.DueDate.String(), string(t.Status), t.CategoryID, t.PriorityID,
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task id: %w", err)
	}
	created, err := s.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if created == nil {
		return domain.Task{}, fmt.Errorf("task %d vanished after insert", id)
	}
	return *created, nil
}

// GetTask loads a task by id; it returns nil when absent.
func (s *SQLStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, selectTasks+` WHERE t.id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &t, nil
}

// ListTasks returns one page ordered by creation time descending and the
// total number of matching rows.
func (s *SQLStore) ListTasks(ctx context.Context, q domain.ListQuery) ([]domain.Task, int, error) {
	where := ""
	var args []any
	if q.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Search)) + "%"
		where = ` WHERE (utf8_lower(t.title) LIKE ? ESCAPE '\' OR utf8_lower(t.description) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	perPage := q.PerPage
	if perPage <= 0 {
		perPage = domain.DefaultPerPage
	}
	pageArgs := append(append([]any{}, args...), perPage, q.Offset())
	rows, err := s.db.QueryContext(ctx, selectTasks+where+` ORDER BY t.created_at DESC, t.id DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, total, nil
}

// UpdateTaskStatus writes a new status and bumps updated_at.
func (s *SQLStore) UpdateTaskStatus(ctx context.Context, id int64, status domain.Status, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), updatedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// TasksUpdatedSince returns tasks whose updated_at is strictly after since.
func (s *SQLStore) TasksUpdatedSince(ctx context.Context, since time.Time) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTasks+` WHERE t.updated_at > ? ORDER BY t.updated_at ASC, t.id ASC`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("tasks updated since: %w", err)
	}
	return collectTasks(rows)
}

// Categories lists all categories by id.
func (s *SQLStore) Categories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	out := []domain.Category{}
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Priorities lists all priorities by id.
func (s *SQLStore) Priorities(ctx context.Context) ([]domain.Priority, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, level FROM priorities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list priorities: %w", err)
	}
	defer rows.Close()
	out := []domain.Priority{}
	for rows.Next() {
		var p domain.Priority
		if err := rows.Scan(&p.ID, &p.Level); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetCategory returns nil when id is unknown.
func (s *SQLStore) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM categories WHERE id = ?`, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category %d: %w", id, err)
	}
	return &c, nil
}

// GetPriority returns nil when id is unknown.
func (s *SQLStore) GetPriority(ctx context.Context, id int64) (*domain.Priority, error) {
	var p domain.Priority
	err := s.db.QueryRowContext(ctx, `SELECT id, level FROM priorities WHERE id = ?`, id).Scan(&p.ID, &p.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get priority %d: %w", id, err)
	}
	return &p, nil
}

// AddCategory inserts a category.
func (s *SQLStore) AddCategory(ctx context.Context, name string) (domain.Category, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return domain.Category{}, fmt.Errorf("insert category %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Category{}, err
	}
	return domain.Category{ID: id, Name: name}, nil
}

// AddPriority inserts a priority level.
func (s *SQLStore) AddPriority(ctx context.Context, level string) (domain.Priority, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO priorities (level) VALUES (?)`, level)
	if err != nil {
		return domain.Priority{}, fmt.Errorf("insert priority %q: %w", level, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Priority{}, err
	}
	return domain.Priority{ID: id, Level: level}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
