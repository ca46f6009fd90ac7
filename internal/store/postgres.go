package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chatrealm/chatrealm/internal/types"
)

type PgRepository struct {
	conn *sql.DB
}

func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRepository{conn: db}, nil
}

func (db *PgRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgRepository) GetRoomByExternalId(externalId string) (types.Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, room_type, persistent, created_at, updated_at "+
			"FROM rooms WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var r types.Room
	err := row.Scan(
		&r.Id,
		&r.ExternalId,
		&r.Name,
		&r.Type,
		&r.Persistent,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Room{}, ErrNotFound
	}
	if err != nil {
		return types.Room{}, fmt.Errorf("get room: %w", err)
	}

	return r, nil
}

func (db *PgRepository) CreateMessage(msg types.Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (message_id, room_id, user_id, username, content, message_type, sentiment, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		msg.Id,
		msg.RoomId,
		nullString(msg.UserId),
		msg.Username,
		msg.Content,
		string(msg.Type),
		string(msg.Sentiment),
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (db *PgRepository) GetMessages(roomId string, before time.Time, limit int) ([]types.Message, error) {
	rows, err := db.conn.Query(
		"SELECT message_id, room_id, COALESCE(user_id, ''), username, content, message_type, COALESCE(sentiment, ''), created_at "+
			"FROM messages WHERE room_id = $1 AND created_at < $2 "+
			"ORDER BY created_at DESC LIMIT $3",
		roomId,
		before,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(
			&m.Id,
			&m.RoomId,
			&m.UserId,
			&m.Username,
			&m.Content,
			&m.Type,
			&m.Sentiment,
			&m.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func (db *PgRepository) SaveModerationEvent(ev ModerationEvent) error {
	_, err := db.conn.Exec(
		"INSERT INTO moderation_events (incident_id, room_id, user_id, action, severity, reason, message, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		ev.Id,
		ev.RoomId,
		ev.UserId,
		ev.Action,
		ev.Severity,
		ev.Reason,
		ev.Message,
		ev.At,
	)
	if err != nil {
		return fmt.Errorf("save moderation event: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
