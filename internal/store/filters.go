package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/gabrielsou/chatfold/internal/tl"
)

// ReplaceFilters replaces the cached filter list wholesale with the given
// records in their list order, together with the session tags flag.
func (db *DB) ReplaceFilters(recs []tl.DialogFilter, tagsEnabled bool) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM filter_peers`); err != nil {
		return fmt.Errorf("clear filter_peers: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM filters`); err != nil {
		return fmt.Errorf("clear filters: %w", err)
	}

	now := time.Now().UnixMilli()
	for position, rec := range recs {
		var color any
		if rec.Color != nil {
			color = *rec.Color
		}
		if _, err := tx.Exec(`
			INSERT INTO filters (id, position, kind, title, title_static, emoticon, color,
				contacts, non_contacts, chat_groups, broadcasts, bots,
				exclude_muted, exclude_read, exclude_archived, new_chats, existing_chats,
				has_my_invites, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, position, int(rec.Kind), rec.Title, rec.TitleStatic, rec.Emoticon, color,
			rec.Contacts, rec.NonContacts, rec.Groups, rec.Broadcasts, rec.Bots,
			rec.ExcludeMuted, rec.ExcludeRead, rec.ExcludeArchived, rec.NewChats, rec.ExistingChats,
			rec.HasMyInvites, now); err != nil {
			return fmt.Errorf("insert filter %d: %w", rec.ID, err)
		}
		for role, ids := range map[string][]int64{
			rolePinned:  rec.PinnedPeers,
			roleInclude: rec.IncludePeers,
			roleExclude: rec.ExcludePeers,
		} {
			for i, peerID := range ids {
				if _, err := tx.Exec(`
					INSERT INTO filter_peers (filter_id, peer_id, role, position)
					VALUES (?, ?, ?, ?)`,
					rec.ID, peerID, role, i); err != nil {
					return fmt.Errorf("insert filter peer %d/%d: %w", rec.ID, peerID, err)
				}
			}
		}
	}

	if err := setMetaTx(tx, metaTagsEnabled, strconv.FormatBool(tagsEnabled)); err != nil {
		return err
	}
	if err := setMetaTx(tx, metaFiltersVersion, strconv.FormatInt(now, 10)); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadFilters returns the cached filter list in its stored order and the tags
// flag. ok is false when no list was ever cached.
func (db *DB) LoadFilters() (recs []tl.DialogFilter, tagsEnabled, ok bool, err error) {
	if _, cached, metaErr := db.GetMeta(metaFiltersVersion); metaErr != nil {
		return nil, false, false, metaErr
	} else if !cached {
		return nil, false, false, nil
	}

	rows, err := db.Query(`
		SELECT id, kind, title, title_static, emoticon, color,
			contacts, non_contacts, chat_groups, broadcasts, bots,
			exclude_muted, exclude_read, exclude_archived, new_chats, existing_chats,
			has_my_invites
		FROM filters ORDER BY position ASC`)
	if err != nil {
		return nil, false, false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec tl.DialogFilter
		var kind int
		var color sql.NullInt64
		if err := rows.Scan(&rec.ID, &kind, &rec.Title, &rec.TitleStatic, &rec.Emoticon, &color,
			&rec.Contacts, &rec.NonContacts, &rec.Groups, &rec.Broadcasts, &rec.Bots,
			&rec.ExcludeMuted, &rec.ExcludeRead, &rec.ExcludeArchived, &rec.NewChats, &rec.ExistingChats,
			&rec.HasMyInvites); err != nil {
			return nil, false, false, err
		}
		rec.Kind = tl.FilterKind(kind)
		if color.Valid {
			v := int32(color.Int64)
			rec.Color = &v
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, false, err
	}

	for i := range recs {
		if err := db.loadFilterPeers(&recs[i]); err != nil {
			return nil, false, false, err
		}
	}

	if v, has, err := db.GetMeta(metaTagsEnabled); err != nil {
		return nil, false, false, err
	} else if has {
		tagsEnabled, _ = strconv.ParseBool(v)
	}
	return recs, tagsEnabled, true, nil
}

func (db *DB) loadFilterPeers(rec *tl.DialogFilter) error {
	rows, err := db.Query(`
		SELECT peer_id, role FROM filter_peers
		WHERE filter_id = ? ORDER BY role, position ASC`, rec.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var peerID int64
		var role string
		if err := rows.Scan(&peerID, &role); err != nil {
			return err
		}
		switch role {
		case rolePinned:
			rec.PinnedPeers = append(rec.PinnedPeers, peerID)
		case roleInclude:
			rec.IncludePeers = append(rec.IncludePeers, peerID)
		case roleExclude:
			rec.ExcludePeers = append(rec.ExcludePeers, peerID)
		}
	}
	return rows.Err()
}

// FilterCount returns the number of cached filters.
func (db *DB) FilterCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM filters`).Scan(&count)
	return count, err
}

// ClearFilters drops the cached filter list and its meta marker.
func (db *DB) ClearFilters() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM filter_peers`); err != nil {
		return fmt.Errorf("clear filter_peers: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM filters`); err != nil {
		return fmt.Errorf("clear filters: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM meta WHERE key IN (?, ?)`,
		metaFiltersVersion, metaTagsEnabled); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}
	return tx.Commit()
}
