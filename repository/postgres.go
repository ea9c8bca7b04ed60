package repository

import (
	"database/sql"
	"fmt"
	"time"

	"tunnel-chat/models"
)

// MigratePostgres creates the schema used by the Postgres-backed
// repositories. Safe to run on every start.
func MigratePostgres(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_private BOOLEAN NOT NULL,
			is_encrypted BOOLEAN NOT NULL,
			encryption_key TEXT NOT NULL DEFAULT '',
			creator TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL REFERENCES rooms(room_id) ON DELETE CASCADE,
			username TEXT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (room_id, username)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			ts BIGINT NOT NULL,
			is_encrypted BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, ts)`,
		`CREATE TABLE IF NOT EXISTS files (
			file_id TEXT PRIMARY KEY,
			original_name TEXT NOT NULL,
			filename TEXT NOT NULL,
			size BIGINT NOT NULL,
			mime_type TEXT NOT NULL,
			uploader TEXT NOT NULL,
			upload_time BIGINT NOT NULL,
			room_id TEXT NOT NULL DEFAULT '',
			is_encrypted BOOLEAN NOT NULL,
			checksum TEXT NOT NULL,
			download_count INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// --- users ---

type PostgresUserRepo struct {
	db *sql.DB
}

func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) Create(username, email, hashedPwd string) (*models.User, error) {
	u := &models.User{Username: username, Email: email, Password: hashedPwd, CreatedAt: time.Now()}
	_, err := r.db.Exec(`
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		u.Username, u.Email, u.Password, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) FindByUsername(username string) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(`
		SELECT username, email, password_hash, created_at
		FROM users WHERE username = $1`,
		username).Scan(&u.Username, &u.Email, &u.Password, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// --- rooms ---

type PostgresRoomRepo struct {
	db *sql.DB
}

func NewPostgresRoomRepo(db *sql.DB) *PostgresRoomRepo {
	return &PostgresRoomRepo{db: db}
}

func (r *PostgresRoomRepo) Create(room *models.Room, creator string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO rooms (room_id, name, is_private, is_encrypted, encryption_key, creator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		room.ID, room.Name, room.IsPrivate, room.IsEncrypted, room.EncryptionKey, room.Creator, room.CreatedAt)
	if err != nil {
		return err
	}

	if creator != "" {
		_, err = tx.Exec(`
			INSERT INTO room_members (room_id, username, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (room_id, username) DO NOTHING`,
			room.ID, creator, time.Now())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRoomRepo) FindByID(id string) (*models.Room, error) {
	room := &models.Room{}
	err := r.db.QueryRow(`
		SELECT room_id, name, is_private, is_encrypted, encryption_key, creator, created_at
		FROM rooms WHERE room_id = $1`,
		id).Scan(&room.ID, &room.Name, &room.IsPrivate, &room.IsEncrypted, &room.EncryptionKey, &room.Creator, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (r *PostgresRoomRepo) ListPublic() ([]models.Room, error) {
	rows, err := r.db.Query(`
		SELECT room_id, name, is_private, is_encrypted, encryption_key, creator, created_at
		FROM rooms WHERE NOT is_private`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRooms(rows)
}

func (r *PostgresRoomRepo) ListPrivateFor(username string) ([]models.Room, error) {
	rows, err := r.db.Query(`
		SELECT r.room_id, r.name, r.is_private, r.is_encrypted, r.encryption_key, r.creator, r.created_at
		FROM rooms r
		JOIN room_members m ON m.room_id = r.room_id
		WHERE r.is_private AND m.username = $1`,
		username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRooms(rows)
}

func scanRooms(rows *sql.Rows) ([]models.Room, error) {
	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.IsPrivate, &room.IsEncrypted,
			&room.EncryptionKey, &room.Creator, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *PostgresRoomRepo) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM rooms WHERE room_id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRoomRepo) AddMember(roomID, username string) error {
	_, err := r.db.Exec(`
		INSERT INTO room_members (room_id, username, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, username) DO NOTHING`,
		roomID, username, time.Now())
	return err
}

func (r *PostgresRoomRepo) RemoveMember(roomID, username string) error {
	_, err := r.db.Exec(`
		DELETE FROM room_members WHERE room_id = $1 AND username = $2`,
		roomID, username)
	return err
}

func (r *PostgresRoomRepo) Members(roomID string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT username FROM room_members WHERE room_id = $1`,
		roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		members = append(members, username)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// No member rows could mean an empty room or a room that does not
	// exist; callers branch on ErrNotFound, so tell them apart.
	if len(members) == 0 {
		var exists bool
		if err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM rooms WHERE room_id = $1)`, roomID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
	}
	return members, nil
}

func (r *PostgresRoomRepo) IsMember(roomID, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND username = $2)`,
		roomID, username).Scan(&exists)
	return exists, err
}

// --- messages ---

type PostgresMessageRepo struct {
	db         *sql.DB
	historyCap int
}

func NewPostgresMessageRepo(db *sql.DB, historyCap int) *PostgresMessageRepo {
	if historyCap <= 0 {
		historyCap = 100
	}
	return &PostgresMessageRepo{db: db, historyCap: historyCap}
}

func (r *PostgresMessageRepo) Append(msg *models.Message) error {
	_, err := r.db.Exec(`
		INSERT INTO messages (message_id, room_id, sender, content, ts, is_encrypted)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.RoomID, msg.Sender, msg.Content, msg.Timestamp, msg.IsEncrypted)
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	// Keep only the newest historyCap rows per room.
	_, err = r.db.Exec(`
		DELETE FROM messages
		WHERE room_id = $1 AND message_id NOT IN (
			SELECT message_id FROM messages
			WHERE room_id = $1
			ORDER BY ts DESC LIMIT $2
		)`,
		msg.RoomID, r.historyCap)
	return err
}

func (r *PostgresMessageRepo) ListByRoom(roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = r.historyCap
	}
	rows, err := r.db.Query(`
		SELECT message_id, room_id, sender, content, ts, is_encrypted
		FROM (
			SELECT message_id, room_id, sender, content, ts, is_encrypted
			FROM messages WHERE room_id = $1
			ORDER BY ts DESC LIMIT $2
		) latest
		ORDER BY ts ASC`,
		roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Content, &msg.Timestamp, &msg.IsEncrypted); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (r *PostgresMessageRepo) CountByRoom(roomID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE room_id = $1`, roomID).Scan(&count)
	return count, err
}

// --- files ---

type PostgresFileRepo struct {
	db *sql.DB
}

func NewPostgresFileRepo(db *sql.DB) *PostgresFileRepo {
	return &PostgresFileRepo{db: db}
}

func (r *PostgresFileRepo) Save(meta *models.FileMetadata) error {
	_, err := r.db.Exec(`
		INSERT INTO files (file_id, original_name, filename, size, mime_type, uploader,
			upload_time, room_id, is_encrypted, checksum, download_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		meta.FileID, meta.OriginalName, meta.Filename, meta.Size, meta.MimeType,
		meta.Uploader, meta.UploadTime, meta.RoomID, meta.IsEncrypted, meta.Checksum, meta.DownloadCount)
	return err
}

func (r *PostgresFileRepo) FindByID(fileID string) (*models.FileMetadata, error) {
	meta := &models.FileMetadata{}
	err := r.db.QueryRow(`
		SELECT file_id, original_name, filename, size, mime_type, uploader,
			upload_time, room_id, is_encrypted, checksum, download_count
		FROM files WHERE file_id = $1`,
		fileID).Scan(&meta.FileID, &meta.OriginalName, &meta.Filename, &meta.Size, &meta.MimeType,
		&meta.Uploader, &meta.UploadTime, &meta.RoomID, &meta.IsEncrypted, &meta.Checksum, &meta.DownloadCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (r *PostgresFileRepo) IncrementDownloads(fileID string) error {
	result, err := r.db.Exec(`
		UPDATE files SET download_count = download_count + 1 WHERE file_id = $1`,
		fileID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresFileRepo) Delete(fileID string) error {
	result, err := r.db.Exec(`DELETE FROM files WHERE file_id = $1`, fileID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
