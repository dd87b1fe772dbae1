package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Sentinel errors returned by lookups and constraint violations.
var (
	ErrNotFound    = errors.New("record not found")
	ErrEmailExists = errors.New("email already exists")
)

// timeFormat is a fixed-width RFC3339 layout. Zero-padded nanoseconds
// keep lexicographic TEXT ordering identical to chronological ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed store for users, tasks, conversations, and
// messages. All public methods are safe for concurrent use (SQLite
// serializes writes).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and migrates the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers unblocked during writes; the busy timeout absorbs
	// write contention instead of surfacing SQLITE_BUSY.
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		title       TEXT NOT NULL,
		description TEXT,
		completed   INTEGER NOT NULL DEFAULT 0,
		priority    TEXT,
		due_date    TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_completed ON tasks(user_id, completed);

	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		title      TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		tool_calls      TEXT,
		created_at      TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Users

// CreateUser inserts a new user. Returns ErrEmailExists when the email
// is already registered.
func (s *Store) CreateUser(email, name, passwordHash string) (*User, error) {
	now := time.Now()
	u := &User{
		ID:           newID(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.Exec(`
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.Name, u.PasswordHash, formatTime(now), formatTime(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// UserByID looks up a user by primary key.
func (s *Store) UserByID(id string) (*User, error) {
	return scanUser(s.db.QueryRow(`
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users WHERE id = ?
	`, id))
}

// UserByEmail looks up a user by email.
func (s *Store) UserByEmail(email string) (*User, error) {
	return scanUser(s.db.QueryRow(`
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, email))
}

// Tasks

// CreateTask inserts a new task owned by userID.
func (s *Store) CreateTask(userID, title string, description *string, priority *Priority, dueDate *time.Time) (*Task, error) {
	now := time.Now()
	t := &Task{
		ID:          newID(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Priority:    priority,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var due any
	if dueDate != nil {
		due = formatTime(*dueDate)
	}
	var prio any
	if priority != nil {
		prio = string(*priority)
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, user_id, title, description, completed, priority, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Title, t.Description, prio, due, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return t, nil
}

func scanTask(scan func(dest ...any) error) (*Task, error) {
	var t Task
	var description, priority, dueDate sql.NullString
	var completed int
	var createdAt, updatedAt string

	err := scan(&t.ID, &t.UserID, &t.Title, &description, &completed,
		&priority, &dueDate, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Completed = completed != 0
	if description.Valid {
		t.Description = &description.String
	}
	if priority.Valid {
		p := Priority(priority.String)
		t.Priority = &p
	}
	if dueDate.Valid {
		due := parseTime(dueDate.String)
		t.DueDate = &due
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

const taskColumns = `id, user_id, title, description, completed, priority, due_date, created_at, updated_at`

// TaskByID looks up a task by primary key, regardless of owner.
// Callers must verify ownership before acting on the result.
func (s *Store) TaskByID(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row.Scan)
}

// TaskFilter is the completion filter for ListTasks.
type TaskFilter string

// ListTasks filters.
const (
	FilterAll       TaskFilter = "all"
	FilterPending   TaskFilter = "pending"
	FilterCompleted TaskFilter = "completed"
)

// TaskSort is the ordering for ListTasks.
type TaskSort string

// ListTasks sort orders.
const (
	SortCreated TaskSort = "created"
	SortTitle   TaskSort = "title"
	SortDueDate TaskSort = "due_date"
)

// ListTasks returns the tasks owned by userID, filtered by completion
// status and sorted by the requested field.
func (s *Store) ListTasks(userID string, filter TaskFilter, sort TaskSort) ([]*Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	switch filter {
	case FilterPending:
		q += ` AND completed = 0`
	case FilterCompleted:
		q += ` AND completed = 1`
	}
	switch sort {
	case SortTitle:
		q += ` ORDER BY title`
	case SortDueDate:
		q += ` ORDER BY due_date DESC`
	default:
		q += ` ORDER BY created_at DESC, id DESC`
	}

	rows, err := s.db.Query(q, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask persists the mutable fields of t and bumps updated_at.
func (s *Store) UpdateTask(t *Task) error {
	t.UpdatedAt = time.Now()

	var due any
	if t.DueDate != nil {
		due = formatTime(*t.DueDate)
	}
	var prio any
	if t.Priority != nil {
		prio = string(*t.Priority)
	}
	completed := 0
	if t.Completed {
		completed = 1
	}

	res, err := s.db.Exec(`
		UPDATE tasks
		SET title = ?, description = ?, completed = ?, priority = ?, due_date = ?, updated_at = ?
		WHERE id = ?
	`, t.Title, t.Description, completed, prio, due, formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task by primary key.
func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Conversations

// CreateConversation allocates a new untitled conversation owned by userID.
func (s *Store) CreateConversation(userID string) (*Conversation, error) {
	now := time.Now()
	c := &Conversation{
		ID:        newID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, c.ID, c.UserID, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return c, nil
}

// ConversationByID looks up a conversation by primary key, regardless
// of owner. Callers must verify ownership before acting on the result.
func (s *Store) ConversationByID(id string) (*Conversation, error) {
	var c Conversation
	var title sql.NullString
	var createdAt, updatedAt string

	err := s.db.QueryRow(`
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &c.UserID, &title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	if title.Valid {
		c.Title = &title.String
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// GetOrCreateConversation resolves id to a conversation owned by userID.
// A missing, unknown, or foreign id allocates a fresh conversation
// instead of failing.
func (s *Store) GetOrCreateConversation(id, userID string) (*Conversation, error) {
	if id != "" {
		c, err := s.ConversationByID(id)
		if err == nil && c.UserID == userID {
			return c, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.CreateConversation(userID)
}

// SetConversationTitle sets the title only if none has been set yet.
// The title is derived from the first user turn and never overwritten.
func (s *Store) SetConversationTitle(id, title string) error {
	_, err := s.db.Exec(`
		UPDATE conversations SET title = ? WHERE id = ? AND title IS NULL
	`, title, id)
	if err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	return nil
}

// TouchConversation bumps the conversation's updated_at timestamp.
func (s *Store) TouchConversation(id string) error {
	_, err := s.db.Exec(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// Messages

// AppendMessage appends an immutable turn to a conversation. Each append
// is its own commit: a persisted user turn survives later failures in
// the same request.
func (s *Store) AppendMessage(conversationID string, role Role, content string, toolCalls *string) (*Message, error) {
	now := time.Now()
	m := &Message{
		ID:             newID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		CreatedAt:      now,
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, string(m.Role), m.Content, m.ToolCalls, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return m, nil
}

func (s *Store) queryMessages(q string, args ...any) ([]*Message, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var toolCalls sql.NullString
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		if toolCalls.Valid {
			m.ToolCalls = &toolCalls.String
		}
		m.CreatedAt = parseTime(createdAt)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// RecentMessages returns the most recent limit turns of a conversation
// in ascending chronological order. The inner query selects the newest
// rows; the outer query restores forward order so callers never reverse.
func (s *Store) RecentMessages(conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryMessages(`
		SELECT id, conversation_id, role, content, tool_calls, created_at FROM (
			SELECT id, conversation_id, role, content, tool_calls, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`, conversationID, limit)
}

// Messages returns the full history of a conversation in ascending
// chronological order.
func (s *Store) Messages(conversationID string) ([]*Message, error) {
	return s.queryMessages(`
		SELECT id, conversation_id, role, content, tool_calls, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID)
}
