package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// CommandStatusSent marks a command the transport accepted.
	CommandStatusSent = "sent"
	// CommandStatusFailed marks a command whose write failed.
	CommandStatusFailed = "failed"
	// CommandStatusDropped marks a command suppressed before reaching the link.
	CommandStatusDropped = "dropped"
)

// Peer is the SQLite representation of a known remote device.
type Peer struct {
	PeerID            string
	Name              string
	Address           string
	Source            string
	AddedTimestamp    int64
	LastSeenTimestamp *int64
}

// LinkEvent stores one command-link state transition.
type LinkEvent struct {
	ID        int64
	AttemptID string
	PeerID    *string
	FromState string
	ToState   string
	ErrorKind string
	Detail    string
	Timestamp int64
}

// LinkEventFilter narrows GetLinkEvents query results.
type LinkEventFilter struct {
	AttemptID     string
	PeerID        string
	ToState       string
	FromTimestamp *int64
	Limit         int
	Offset        int
}

// CommandRecord stores the outcome of one triggered command.
type CommandRecord struct {
	ID        int64
	AttemptID string
	PeerID    *string
	Command   string
	Code      int
	Status    string
	Error     string
	Timestamp int64
}

// CommandStats summarizes command outcomes for one peer.
type CommandStats struct {
	Sent    int
	Failed  int
	Dropped int
}

func validateCommandStatus(status string) error {
	switch status {
	case CommandStatusSent, CommandStatusFailed, CommandStatusDropped:
		return nil
	default:
		return fmt.Errorf("invalid command status %q", status)
	}
}

func validateCommandName(name string) error {
	switch name {
	case "left", "right":
		return nil
	default:
		return fmt.Errorf("invalid command %q", name)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
