package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/auxroom/go-auxroom/internal/database"
	"github.com/auxroom/go-auxroom/internal/types"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func TestJwtRoundTrip(t *testing.T) {
	app := &AuxroomApp{signingKey: testSigningKey}

	token, err := app.createJwtForSession(types.User{Id: 42}, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	userId, err := app.extractUserIdFromToken(token)
	assert.NoError(t, err)
	assert.Equal(t, 42, userId)
}

func TestExtractUserIdFromToken_Invalid(t *testing.T) {
	app := &AuxroomApp{signingKey: testSigningKey}

	_, err := app.extractUserIdFromToken("not-a-token")
	assert.Error(t, err)

	other := &AuxroomApp{signingKey: []byte("another-signing-key-entirely!!!!")}
	token, err := other.createJwtForSession(types.User{Id: 1}, time.Hour)
	assert.NoError(t, err)

	_, err = app.extractUserIdFromToken(token)
	assert.Error(t, err, "token signed with a different key should not verify")
}

func TestTokenService_ValidateToken(t *testing.T) {
	app := &AuxroomApp{signingKey: testSigningKey}

	t.Run("valid token resolves account", func(t *testing.T) {
		mockRepo := &database.MockMusicRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetAccountById", 7).Return(database.User{
			Id:           7,
			Username:     "listener",
			EmailAddress: "listener@example.com",
		}, nil).Once()

		token, err := app.createJwtForSession(types.User{Id: 7}, time.Hour)
		assert.NoError(t, err)

		ts := NewTokenService(mockRepo, testSigningKey)
		user, err := ts.ValidateToken(context.Background(), token)
		assert.NoError(t, err)
		assert.Equal(t, 7, user.Id)
		assert.Equal(t, "listener", user.Username)
	})

	t.Run("malformed token", func(t *testing.T) {
		ts := NewTokenService(&database.MockMusicRepository{}, testSigningKey)
		_, err := ts.ValidateToken(context.Background(), "garbage")
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := app.createJwtForSession(types.User{Id: 7}, -time.Hour)
		assert.NoError(t, err)

		ts := NewTokenService(&database.MockMusicRepository{}, testSigningKey)
		_, err = ts.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("unknown account", func(t *testing.T) {
		mockRepo := &database.MockMusicRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetAccountById", 7).Return(database.User{}, errors.New("no rows")).Once()

		token, err := app.createJwtForSession(types.User{Id: 7}, time.Hour)
		assert.NoError(t, err)

		ts := NewTokenService(mockRepo, testSigningKey)
		_, err = ts.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		token, err := app.createJwtForSession(types.User{Id: 7}, time.Hour)
		assert.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ts := NewTokenService(&database.MockMusicRepository{}, testSigningKey)
		_, err = ts.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := hashPassword("s3cret")
	assert.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, verifyPassword(hash, "s3cret"))
	assert.False(t, verifyPassword(hash, "wrong"))
}
