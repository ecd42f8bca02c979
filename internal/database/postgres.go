package database

import (
	"database/sql"
)

type PgMusicRepository struct {
	conn *sql.DB
}

func NewPgMusicRepository(dsn string) (*PgMusicRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgMusicRepository{conn: db}, nil
}

func (db *PgMusicRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgMusicRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
