package conversations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/rs/zerolog"
)

// SQLStore persists conversations in SQLite so they survive across processes.
// The schema is created by migrations.RunMigrations.
type SQLStore struct {
	db       *sql.DB
	maxTurns int
	now      func() time.Time
	newID    func() string
	logger   zerolog.Logger

	// Appends are serialized in-process; SQLite would otherwise report
	// SQLITE_BUSY for concurrent writers on the same file.
	mu sync.Mutex
}

// NewSQLStore creates a store over db, capped at maxTurns per conversation.
func NewSQLStore(db *sql.DB, maxTurns int, logger zerolog.Logger) *SQLStore {
	return &SQLStore{
		db:       db,
		maxTurns: maxTurns,
		now:      time.Now,
		newID:    NewID,
		logger:   logger.With().Str("component", "conversations").Logger(),
	}
}

// Append implements Store. The conversation row and both turns are written
// in one transaction.
func (s *SQLStore) Append(ctx context.Context, conversationID string, prompt, reply Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID == "" {
		conversationID = s.newID()
	}
	now := s.now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// SQLite requires "OR IGNORE" to come after "INSERT"
	insertConv, args, err := sq.Insert("conversations").
		Columns("id", "created_at", "updated_at").
		Values(conversationID, now, now).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	insertConv = strings.Replace(insertConv, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
	if _, err := tx.ExecContext(ctx, insertConv, args...); err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}

	nextSeqQuery, args, err := sq.Select("COALESCE(MAX(seq), -1) + 1").
		From("conversation_turns").
		Where(sq.Eq{"conversation_id": conversationID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, nextSeqQuery, args...).Scan(&seq); err != nil {
		return "", fmt.Errorf("read next sequence: %w", err)
	}

	insertTurns := sq.Insert("conversation_turns").
		Columns("conversation_id", "seq", "role", "content", "provider", "model", "created_at")
	for i, turn := range []Turn{prompt, reply} {
		insertTurns = insertTurns.Values(conversationID, seq+int64(i), string(turn.Role), turn.Content, turn.Provider, turn.Model, now)
	}
	query, args, err := insertTurns.ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert turns: %w", err)
	}

	live, err := countTurns(ctx, tx, conversationID)
	if err != nil {
		return "", err
	}
	if drop := trimmed(live, s.maxTurns); drop > 0 {
		if err := s.dropOldest(ctx, tx, conversationID, drop); err != nil {
			return "", err
		}
	}

	update, args, err := sq.Update("conversations").
		Set("updated_at", now).
		Where(sq.Eq{"id": conversationID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return "", fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return conversationID, nil
}

func countTurns(ctx context.Context, tx *sql.Tx, conversationID string) (int, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("conversation_turns").
		Where(sq.Eq{"conversation_id": conversationID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

func (s *SQLStore) dropOldest(ctx context.Context, tx *sql.Tx, conversationID string, n int) error {
	query, args, err := sq.Delete("conversation_turns").
		Where(sq.Eq{"conversation_id": conversationID}).
		Where(sq.Expr("seq IN (SELECT seq FROM conversation_turns WHERE conversation_id = ? ORDER BY seq ASC LIMIT ?)", conversationID, n)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("trim conversation: %w", err)
	}
	s.logger.Debug().
		Str("conversation_id", conversationID).
		Int("dropped", n).
		Int("max_turns", s.maxTurns).
		Msg("Conversation trimmed")
	return nil
}

// History implements Store.
func (s *SQLStore) History(ctx context.Context, conversationID string) ([]Turn, error) {
	query, args, err := sq.Select("role", "content", "provider", "model").
		From("conversation_turns").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var turn Turn
		var role string
		if err := rows.Scan(&role, &turn.Content, &turn.Provider, &turn.Model); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = llm.MessageRole(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return turns, nil
}

// Clear implements Store.
func (s *SQLStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteConversations(ctx, tx, sq.Eq{"id": conversationID}); err != nil {
		return err
	}
	return tx.Commit()
}

// Prune implements Pruner.
func (s *SQLStore) Prune(ctx context.Context, idleFor time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idleFor).Unix()

	query, args, err := sq.Select("id").
		From("conversations").
		Where(sq.Lt{"updated_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query idle conversations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate idle conversations: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteConversations(ctx, tx, sq.Eq{"id": ids}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(ids), nil
}

func deleteConversations(ctx context.Context, tx *sql.Tx, idFilter sq.Eq) error {
	turnFilter := sq.Eq{"conversation_id": idFilter["id"]}

	query, args, err := sq.Delete("conversation_turns").Where(turnFilter).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}

	query, args, err = sq.Delete("conversations").Where(idFilter).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	return nil
}
