package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"remotectl/models"
)

// UpsertPeer inserts a peer or refreshes its name, address and last-seen time.
// The original insertion position is kept, so ListPeers order is stable.
func (s *Store) UpsertPeer(peer Peer) error {
	if strings.TrimSpace(peer.PeerID) == "" {
		return errors.New("peer_id is required")
	}
	if strings.TrimSpace(peer.Address) == "" {
		return errors.New("address is required")
	}
	if peer.Name == "" {
		peer.Name = peer.PeerID
	}
	if peer.Source == "" {
		peer.Source = models.SourceManual
	}
	if peer.AddedTimestamp == 0 {
		peer.AddedTimestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO peers (
			peer_id,
			name,
			address,
			source,
			added_timestamp,
			last_seen_timestamp
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			source = excluded.source,
			last_seen_timestamp = COALESCE(excluded.last_seen_timestamp, peers.last_seen_timestamp)`,
		peer.PeerID,
		peer.Name,
		peer.Address,
		peer.Source,
		peer.AddedTimestamp,
		nullInt64(peer.LastSeenTimestamp),
	)
	if err != nil {
		return fmt.Errorf("upsert peer %q: %w", peer.PeerID, err)
	}

	return nil
}

// GetPeer fetches a peer by ID.
func (s *Store) GetPeer(peerID string) (*Peer, error) {
	row := s.db.QueryRow(
		`SELECT
			peer_id,
			name,
			address,
			source,
			added_timestamp,
			last_seen_timestamp
		FROM peers
		WHERE peer_id = ?`,
		peerID,
	)

	peer, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get peer %q: %w", peerID, err)
	}

	return peer, nil
}

// ListPeers returns all peers in insertion order.
func (s *Store) ListPeers() ([]Peer, error) {
	rows, err := s.db.Query(
		`SELECT
			peer_id,
			name,
			address,
			source,
			added_timestamp,
			last_seen_timestamp
		FROM peers
		ORDER BY rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	peers := make([]Peer, 0)
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peer row: %w", err)
		}
		peers = append(peers, *peer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer rows: %w", err)
	}

	return peers, nil
}

// TouchPeer updates last_seen_timestamp.
func (s *Store) TouchPeer(peerID string, lastSeenTimestamp int64) error {
	res, err := s.db.Exec(`UPDATE peers SET last_seen_timestamp = ? WHERE peer_id = ?`, lastSeenTimestamp, peerID)
	if err != nil {
		return fmt.Errorf("touch peer %q: %w", peerID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for peer %q: %w", peerID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// RemovePeer deletes a peer row.
func (s *Store) RemovePeer(peerID string) error {
	res, err := s.db.Exec(`DELETE FROM peers WHERE peer_id = ?`, peerID)
	if err != nil {
		return fmt.Errorf("remove peer %q: %w", peerID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for peer %q: %w", peerID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// PeerFromModel converts a discovered peer for storage.
func PeerFromModel(peer models.Peer) Peer {
	return Peer{
		PeerID:         peer.ID,
		Name:           peer.Name,
		Address:        peer.Address,
		Source:         peer.Source,
		AddedTimestamp: peer.DiscoveredAt,
	}
}

// Model converts a stored peer back to the shared model.
func (p Peer) Model() models.Peer {
	return models.Peer{
		ID:           p.PeerID,
		Name:         p.Name,
		Address:      p.Address,
		Source:       p.Source,
		DiscoveredAt: p.AddedTimestamp,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPeer(row scanner) (*Peer, error) {
	var (
		peer     Peer
		lastSeen sql.NullInt64
	)
	if err := row.Scan(
		&peer.PeerID,
		&peer.Name,
		&peer.Address,
		&peer.Source,
		&peer.AddedTimestamp,
		&lastSeen,
	); err != nil {
		return nil, err
	}

	peer.LastSeenTimestamp = int64Ptr(lastSeen)
	return &peer, nil
}
