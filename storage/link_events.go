package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// RecordLinkEvent inserts one link state transition.
func (s *Store) RecordLinkEvent(event LinkEvent) error {
	if strings.TrimSpace(event.FromState) == "" || strings.TrimSpace(event.ToState) == "" {
		return errors.New("from_state and to_state are required")
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO link_events (
			attempt_id,
			peer_id,
			from_state,
			to_state,
			error_kind,
			detail,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.AttemptID,
		nullString(event.PeerID),
		event.FromState,
		event.ToState,
		event.ErrorKind,
		event.Detail,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert link event %s->%s: %w", event.FromState, event.ToState, err)
	}

	return nil
}

// GetLinkEvents returns link events newest first with optional filtering.
func (s *Store) GetLinkEvents(filter LinkEventFilter) ([]LinkEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		attempt_id,
		peer_id,
		from_state,
		to_state,
		error_kind,
		detail,
		timestamp
	FROM link_events`)

	where := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if filter.AttemptID != "" {
		where = append(where, "attempt_id = ?")
		args = append(args, filter.AttemptID)
	}
	if filter.PeerID != "" {
		where = append(where, "peer_id = ?")
		args = append(args, filter.PeerID)
	}
	if filter.ToState != "" {
		where = append(where, "to_state = ?")
		args = append(args, filter.ToState)
	}
	if filter.FromTimestamp != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.FromTimestamp)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get link events: %w", err)
	}
	defer rows.Close()

	events := make([]LinkEvent, 0)
	for rows.Next() {
		event, err := scanLinkEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link event row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link event rows: %w", err)
	}

	return events, nil
}

func scanLinkEvent(row scanner) (*LinkEvent, error) {
	var (
		event  LinkEvent
		peerID sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&event.AttemptID,
		&peerID,
		&event.FromState,
		&event.ToState,
		&event.ErrorKind,
		&event.Detail,
		&event.Timestamp,
	); err != nil {
		return nil, err
	}

	event.PeerID = stringPtr(peerID)
	return &event, nil
}
