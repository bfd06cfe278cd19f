package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertPeer inserts or updates a peer record. An empty incoming name never
// clobbers a stored one.
func (db *DB) UpsertPeer(p *Peer) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO peers (id, kind, bot, contact, broadcast, self, name, invite_link, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			bot = excluded.bot,
			contact = excluded.contact,
			broadcast = excluded.broadcast,
			self = excluded.self,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE peers.name END,
			invite_link = CASE WHEN excluded.invite_link != '' THEN excluded.invite_link ELSE peers.invite_link END,
			updated_at = excluded.updated_at`,
		p.ID, p.Kind, p.Bot, p.Contact, p.Broadcast, p.Self, p.Name, p.InviteLink, now)
	return err
}

// BulkUpsertPeers inserts or updates multiple peers in a single transaction.
func (db *DB) BulkUpsertPeers(peers []Peer) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, p := range peers {
		if _, err := tx.Exec(`
			INSERT INTO peers (id, kind, bot, contact, broadcast, self, name, invite_link, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				bot = excluded.bot,
				contact = excluded.contact,
				broadcast = excluded.broadcast,
				self = excluded.self,
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE peers.name END,
				invite_link = CASE WHEN excluded.invite_link != '' THEN excluded.invite_link ELSE peers.invite_link END,
				updated_at = excluded.updated_at`,
			p.ID, p.Kind, p.Bot, p.Contact, p.Broadcast, p.Self, p.Name, p.InviteLink, now); err != nil {
			return fmt.Errorf("upsert peer %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// GetPeer returns a peer by id, or nil when unknown.
func (db *DB) GetPeer(id int64) (*Peer, error) {
	var p Peer
	err := db.QueryRow(`
		SELECT id, kind, bot, contact, broadcast, self, name, invite_link
		FROM peers WHERE id = ?`, id).
		Scan(&p.ID, &p.Kind, &p.Bot, &p.Contact, &p.Broadcast, &p.Self, &p.Name, &p.InviteLink)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPeers returns every cached peer ordered by id.
func (db *DB) ListPeers() ([]Peer, error) {
	rows, err := db.Query(`
		SELECT id, kind, bot, contact, broadcast, self, name, invite_link
		FROM peers ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var peers []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.ID, &p.Kind, &p.Bot, &p.Contact, &p.Broadcast,
			&p.Self, &p.Name, &p.InviteLink); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// PeerCount returns the total number of cached peers.
func (db *DB) PeerCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM peers`).Scan(&count)
	return count, err
}
