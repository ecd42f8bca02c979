package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string

	// AuthTimeout bounds how long a freshly opened connection may remain
	// unauthenticated before it is closed.
	AuthTimeout time.Duration
	// ConnIdleTimeout is the inactivity window after which a connection is
	// reaped by the stale sweep.
	ConnIdleTimeout time.Duration
	// EventRetention is how long an unconfirmed delivery record is kept
	// pending before it is expired.
	EventRetention time.Duration
	// EmptyRoomTTL is how long a room may sit with zero participants before
	// the cleanup pass destroys it.
	EmptyRoomTTL time.Duration
	// SweepInterval is the period of the maintenance ticker driving the
	// stale-connection, stale-event and stale-room sweeps.
	SweepInterval time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:     databaseDSN,
		ServerAddr:      serverAddr,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		AuthTimeout:     10 * time.Second,
		ConnIdleTimeout: 2 * time.Minute,
		EventRetention:  30 * time.Second,
		EmptyRoomTTL:    5 * time.Minute,
		SweepInterval:   15 * time.Second,
	}, nil
}
