package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskhive/chatcache/internal/model"
	"go.uber.org/zap"
)

// PostgresHistoryStore implements HistoryStore for PostgreSQL
type PostgresHistoryStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresHistoryStore creates a new PostgreSQL history store
func NewPostgresHistoryStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresHistoryStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresHistoryStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// FetchConversationHistory returns all messages for a user, oldest first
func (s *PostgresHistoryStore) FetchConversationHistory(ctx context.Context, userID string) ([]model.Message, error) {
	query := `
		SELECT id, role, content, timestamp, metadata
		FROM messages
		WHERE user_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FetchPage returns up to limit messages starting at offset, oldest first
func (s *PostgresHistoryStore) FetchPage(ctx context.Context, userID string, offset, limit int) ([]model.Message, error) {
	query := `
		SELECT id, role, content, timestamp, metadata
		FROM messages
		WHERE user_id = $1
		ORDER BY timestamp ASC
		OFFSET $2 LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// PersistMessage appends a message to the user's history
func (s *PostgresHistoryStore) PersistMessage(ctx context.Context, userID string, msg model.Message) error {
	query := `
		INSERT INTO messages (id, user_id, role, content, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var metadata []byte
	if msg.Metadata != nil {
		var err error
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, query,
		msg.ID,
		userID,
		string(msg.Role),
		msg.Content,
		msg.Timestamp,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	return nil
}

// FetchTable runs a table-scoped read used by the prefetcher.
// Supported tables map to the surrounding task-management schema.
func (s *PostgresHistoryStore) FetchTable(ctx context.Context, userID, table, operation string, params TableParams) (interface{}, error) {
	var query string
	switch table {
	case "tasks":
		query = `SELECT id, title, status, priority, due_date FROM tasks WHERE user_id = $1 ORDER BY due_date ASC LIMIT 50`
	case "projects":
		query = `SELECT id, name, status FROM projects WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 20`
	default:
		return nil, fmt.Errorf("unsupported table: %s", table)
	}

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch table %s: %w", table, err)
	}
	defer rows.Close()

	results := make([]map[string]interface{}, 0)
	fields := rows.FieldDescriptions()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(map[string]interface{}, len(fields))
		for i, field := range fields {
			row[string(field.Name)] = values[i]
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return results, nil
}

// Ping checks the database connection
func (s *PostgresHistoryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresHistoryStore) Close() error {
	s.pool.Close()
	return nil
}

type messageRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows messageRows) ([]model.Message, error) {
	messages := make([]model.Message, 0)

	for rows.Next() {
		var msg model.Message
		var role string
		var metadata []byte

		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg.Role = model.Role(role)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}
