package sqlite

import (
	"context"
	"fmt"
	"time"

	"promptplane/internal/store"
)

// AppendServiceLog writes one entry to the append-only audit stream.
func (s *Store) AppendServiceLog(ctx context.Context, level, message string, metadata []byte) error {
	var meta interface{}
	if len(metadata) > 0 {
		meta = string(metadata)
	}
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO service_logs (level, message, metadata, timestamp) VALUES (?, ?, ?, ?)",
		level, message, meta, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append service log: %w", err)
	}
	return nil
}

// GetServiceLogs returns the newest entries first.
func (s *Store) GetServiceLogs(ctx context.Context, limit int) ([]store.ServiceLog, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, level, message, metadata, timestamp FROM service_logs ORDER BY timestamp DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []store.ServiceLog
	for rows.Next() {
		var l store.ServiceLog
		var meta *string
		if err := rows.Scan(&l.ID, &l.Level, &l.Message, &meta, &l.Timestamp); err != nil {
			return nil, err
		}
		if meta != nil {
			l.Metadata = []byte(*meta)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
