package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// RecordCommand inserts the outcome of one command trigger.
func (s *Store) RecordCommand(record CommandRecord) error {
	if err := validateCommandName(record.Command); err != nil {
		return err
	}
	if err := validateCommandStatus(record.Status); err != nil {
		return err
	}
	if record.Timestamp == 0 {
		record.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO commands (
			attempt_id,
			peer_id,
			command,
			code,
			status,
			error,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.AttemptID,
		nullString(record.PeerID),
		record.Command,
		record.Code,
		record.Status,
		record.Error,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert command %q: %w", record.Command, err)
	}

	return nil
}

// ListCommands returns the newest command records for a peer.
func (s *Store) ListCommands(peerID string, limit int) ([]CommandRecord, error) {
	if peerID == "" {
		return nil, errors.New("peer_id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT
			id,
			attempt_id,
			peer_id,
			command,
			code,
			status,
			error,
			timestamp
		FROM commands
		WHERE peer_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		peerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list commands for %q: %w", peerID, err)
	}
	defer rows.Close()

	records := make([]CommandRecord, 0)
	for rows.Next() {
		record, err := scanCommandRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command rows: %w", err)
	}

	return records, nil
}

// GetCommandStats counts command outcomes for a peer.
func (s *Store) GetCommandStats(peerID string) (CommandStats, error) {
	rows, err := s.db.Query(
		`SELECT status, COUNT(1) FROM commands WHERE peer_id = ? GROUP BY status`,
		peerID,
	)
	if err != nil {
		return CommandStats{}, fmt.Errorf("command stats for %q: %w", peerID, err)
	}
	defer rows.Close()

	var stats CommandStats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return CommandStats{}, fmt.Errorf("scan command stats row: %w", err)
		}
		switch status {
		case CommandStatusSent:
			stats.Sent = count
		case CommandStatusFailed:
			stats.Failed = count
		case CommandStatusDropped:
			stats.Dropped = count
		}
	}
	if err := rows.Err(); err != nil {
		return CommandStats{}, fmt.Errorf("iterate command stats rows: %w", err)
	}

	return stats, nil
}

func scanCommandRecord(row scanner) (*CommandRecord, error) {
	var (
		record CommandRecord
		peerID sql.NullString
	)
	if err := row.Scan(
		&record.ID,
		&record.AttemptID,
		&peerID,
		&record.Command,
		&record.Code,
		&record.Status,
		&record.Error,
		&record.Timestamp,
	); err != nil {
		return nil, err
	}

	record.PeerID = stringPtr(peerID)
	return &record, nil
}
