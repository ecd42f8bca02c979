package database

import (
	"database/sql"
	"fmt"
	"time"
)

func (db *PgMusicRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgMusicRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgMusicRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgMusicRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (external_id, name, description, owner_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, external_id, name, description, owner_id, created_at",
		params.ExternalId,
		params.Name,
		params.Description,
		params.OwnerId,
		time.Now().UTC(),
	)

	var r Room
	err := res.Scan(
		&r.Id,
		&r.ExternalId,
		&r.Name,
		&r.Description,
		&r.OwnerId,
		&r.CreatedAt,
	)

	return r, err
}

func (db *PgMusicRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, owner_id, created_at FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var r Room
	err := row.Scan(
		&r.Id,
		&r.ExternalId,
		&r.Name,
		&r.Description,
		&r.OwnerId,
		&r.CreatedAt,
	)

	return r, err
}

func (db *PgMusicRepository) DeleteRoom(externalId string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tracks WHERE room_id = $1", externalId); err != nil {
		return fmt.Errorf("delete tracks: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM playback_states WHERE room_id = $1", externalId); err != nil {
		return fmt.Errorf("delete playback state: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM rooms WHERE external_id = $1", externalId); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	return tx.Commit()
}

func (db *PgMusicRepository) GetQueue(roomId string) ([]Track, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, title, artist, added_by, votes, duration_ms, created_at FROM tracks "+
			"WHERE room_id = $1 ORDER BY votes DESC, created_at ASC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(
			&t.Id,
			&t.RoomId,
			&t.Title,
			&t.Artist,
			&t.AddedBy,
			&t.Votes,
			&t.DurationMs,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	return tracks, rows.Err()
}

func (db *PgMusicRepository) AddTrack(params AddTrackParams) (Track, error) {
	res := db.conn.QueryRow(
		"INSERT INTO tracks (id, room_id, title, artist, added_by, votes, duration_ms, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, 0, $6, $7) "+
			"RETURNING id, room_id, title, artist, added_by, votes, duration_ms, created_at",
		params.Id,
		params.RoomId,
		params.Title,
		params.Artist,
		params.AddedBy,
		params.DurationMs,
		time.Now().UTC(),
	)

	var t Track
	err := res.Scan(
		&t.Id,
		&t.RoomId,
		&t.Title,
		&t.Artist,
		&t.AddedBy,
		&t.Votes,
		&t.DurationMs,
		&t.CreatedAt,
	)

	return t, err
}

func (db *PgMusicRepository) RemoveTrack(roomId, trackId string) error {
	res, err := db.conn.Exec(
		"DELETE FROM tracks WHERE room_id = $1 AND id = $2",
		roomId,
		trackId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgMusicRepository) CreateVote(roomId, trackId string, accountId int) (Track, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Track{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO votes (track_id, account_id, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (track_id, account_id) DO NOTHING",
		trackId,
		accountId,
		time.Now().UTC(),
	); err != nil {
		return Track{}, fmt.Errorf("insert vote: %w", err)
	}

	t, err := db.syncVoteCount(tx, roomId, trackId)
	if err != nil {
		return Track{}, err
	}

	return t, tx.Commit()
}

func (db *PgMusicRepository) DeleteVote(roomId, trackId string, accountId int) (Track, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Track{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM votes WHERE track_id = $1 AND account_id = $2",
		trackId,
		accountId,
	); err != nil {
		return Track{}, fmt.Errorf("delete vote: %w", err)
	}

	t, err := db.syncVoteCount(tx, roomId, trackId)
	if err != nil {
		return Track{}, err
	}

	return t, tx.Commit()
}

func (db *PgMusicRepository) syncVoteCount(tx *sql.Tx, roomId, trackId string) (Track, error) {
	row := tx.QueryRow(
		"UPDATE tracks SET votes = (SELECT COUNT(*) FROM votes WHERE track_id = $2) "+
			"WHERE room_id = $1 AND id = $2 "+
			"RETURNING id, room_id, title, artist, added_by, votes, duration_ms, created_at",
		roomId,
		trackId,
	)

	var t Track
	err := row.Scan(
		&t.Id,
		&t.RoomId,
		&t.Title,
		&t.Artist,
		&t.AddedBy,
		&t.Votes,
		&t.DurationMs,
		&t.CreatedAt,
	)
	if err != nil {
		return Track{}, fmt.Errorf("sync vote count: %w", err)
	}

	return t, nil
}

func (db *PgMusicRepository) GetPlaybackState(roomId string) (PlaybackState, error) {
	row := db.conn.QueryRow(
		"SELECT room_id, track_id, state, position_ms, updated_at FROM playback_states "+
			"WHERE room_id = $1 LIMIT 1",
		roomId,
	)

	var ps PlaybackState
	err := row.Scan(
		&ps.RoomId,
		&ps.TrackId,
		&ps.State,
		&ps.PositionMs,
		&ps.UpdatedAt,
	)

	return ps, err
}

func (db *PgMusicRepository) SavePlaybackState(state PlaybackState) error {
	_, err := db.conn.Exec(
		"INSERT INTO playback_states (room_id, track_id, state, position_ms, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (room_id) DO UPDATE SET track_id = $2, state = $3, position_ms = $4, updated_at = $5",
		state.RoomId,
		state.TrackId,
		state.State,
		state.PositionMs,
		time.Now().UTC(),
	)

	return err
}
