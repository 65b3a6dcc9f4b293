// Package store persists conversations in Postgres and reads the user data
// the coach needs for context.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"identityforge/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist or belongs to another user
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schema string

// PostgresStore implements persistence on top of database/sql and lib/pq
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new store on an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate creates any missing tables
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const conversationColumns = "id, user_id, type, title, is_active, is_complete, model, started_at, last_message_at"

// CreateConversation inserts a new active conversation
func (s *PostgresStore) CreateConversation(ctx context.Context, userID uuid.UUID, convType models.ConversationType, title, model string) (models.Conversation, error) {
	now := s.now()
	conv := models.Conversation{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          convType,
		Title:         title,
		IsActive:      true,
		Model:         model,
		StartedAt:     now,
		LastMessageAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations ("+conversationColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		conv.ID, conv.UserID, string(conv.Type), conv.Title, conv.IsActive, conv.IsComplete, conv.Model, conv.StartedAt, conv.LastMessageAt)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation owned by userID
func (s *PostgresStore) GetConversation(ctx context.Context, userID, id uuid.UUID) (models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1 AND user_id = $2", id, userID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrNotFound
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the user's conversations, most recently active
// first, each carrying its latest message
func (s *PostgresStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT c.id, c.user_id, c.type, c.title, c.is_active, c.is_complete, c.model, c.started_at, c.last_message_at,
	m.id, m.role, m.content, m.created_at
FROM conversations c
LEFT JOIN LATERAL (
	SELECT id, role, content, created_at FROM conversation_messages
	WHERE conversation_id = c.id ORDER BY created_at DESC LIMIT 1
) m ON TRUE
WHERE c.user_id = $1
ORDER BY c.last_message_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var (
			conv      models.Conversation
			convType  string
			msgID     uuid.NullUUID
			msgRole   sql.NullString
			msgBody   sql.NullString
			msgCreate sql.NullTime
		)
		if err := rows.Scan(&conv.ID, &conv.UserID, &convType, &conv.Title, &conv.IsActive, &conv.IsComplete,
			&conv.Model, &conv.StartedAt, &conv.LastMessageAt, &msgID, &msgRole, &msgBody, &msgCreate); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.Type = models.ConversationType(convType)
		if msgID.Valid {
			conv.Messages = []models.Message{{
				ID:             msgID.UUID,
				ConversationID: conv.ID,
				Role:           models.Role(msgRole.String),
				Content:        msgBody.String,
				CreatedAt:      msgCreate.Time,
			}}
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// SetConversationComplete sets the completion flag on a user's conversation
func (s *PostgresStore) SetConversationComplete(ctx context.Context, userID, id uuid.UUID, complete bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET is_complete = $1 WHERE id = $2 AND user_id = $3", complete, id, userID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return expectOneRow(res)
}

// TouchConversation records activity on a conversation
func (s *PostgresStore) TouchConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET last_message_at = $1 WHERE id = $2", s.now(), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a user's conversation with its messages and insights
func (s *PostgresStore) DeleteConversation(ctx context.Context, userID, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var owned bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1 AND user_id = $2)", id, userID).Scan(&owned); err != nil {
		return fmt.Errorf("check conversation owner: %w", err)
	}
	if !owned {
		return ErrNotFound
	}

	for _, q := range []string{
		"DELETE FROM conversation_insights WHERE conversation_id = $1",
		"DELETE FROM conversation_messages WHERE conversation_id = $1",
		"DELETE FROM conversations WHERE id = $1",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
	}
	return tx.Commit()
}

// SaveMessage appends a message to a conversation
func (s *PostgresStore) SaveMessage(ctx context.Context, conversationID uuid.UUID, role models.Role, content string) (models.Message, error) {
	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversation_messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)",
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a conversation's messages in creation order
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, created_at FROM conversation_messages WHERE conversation_id = $1 ORDER BY created_at ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveInsights stores insights extracted from a coach reply
func (s *PostgresStore) SaveInsights(ctx context.Context, conversationID uuid.UUID, insights []string) error {
	now := s.now()
	for _, insight := range insights {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO conversation_insights (id, conversation_id, insight, created_at) VALUES ($1, $2, $3, $4)",
			uuid.New(), conversationID, insight, now); err != nil {
			return fmt.Errorf("insert insight: %w", err)
		}
	}
	return nil
}

// UserExists reports whether a user id is known
func (s *PostgresStore) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

// IdentityStatement returns the user's current identity statement, or ""
func (s *PostgresStore) IdentityStatement(ctx context.Context, userID uuid.UUID) (string, error) {
	var statement sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT current_identity_statement FROM users WHERE id = $1", userID).Scan(&statement)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get identity statement: %w", err)
	}
	return statement.String, nil
}

// ValueNames returns up to limit value names in priority order. A limit of
// zero or less returns all of them.
func (s *PostgresStore) ValueNames(ctx context.Context, userID uuid.UUID, limit int) ([]string, error) {
	query := "SELECT name FROM user_values WHERE user_id = $1 AND deleted_at IS NULL ORDER BY priority ASC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list values: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ActiveBeliefs returns the user's active beliefs, highest priority first
func (s *PostgresStore) ActiveBeliefs(ctx context.Context, userID uuid.UUID) ([]models.Belief, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, statement, category, strength FROM beliefs
WHERE user_id = $1 AND is_active
ORDER BY priority ASC, strength DESC NULLS LAST, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	defer rows.Close()

	var beliefs []models.Belief
	for rows.Next() {
		var b models.Belief
		if err := rows.Scan(&b.ID, &b.Type, &b.Statement, &b.Category, &b.Strength); err != nil {
			return nil, fmt.Errorf("scan belief: %w", err)
		}
		beliefs = append(beliefs, b)
	}
	return beliefs, rows.Err()
}

// RecentEntries returns the user's latest daily entries, newest first
func (s *PostgresStore) RecentEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.DailyEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, energy_level, alignment_score, morning_response, evening_response FROM daily_entries
WHERE user_id = $1 ORDER BY date DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []models.DailyEntry
	for rows.Next() {
		var e models.DailyEntry
		if err := rows.Scan(&e.Date, &e.EnergyLevel, &e.AlignmentScore, &e.MorningResponse, &e.EveningResponse); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (models.Conversation, error) {
	var conv models.Conversation
	var convType string
	err := row.Scan(&conv.ID, &conv.UserID, &convType, &conv.Title, &conv.IsActive, &conv.IsComplete,
		&conv.Model, &conv.StartedAt, &conv.LastMessageAt)
	conv.Type = models.ConversationType(convType)
	return conv, err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
