package testutil

import (
	"log"
	"os"
	"testing"

	"github.com/auxroom/go-auxroom/internal/database"
	"github.com/auxroom/go-auxroom/internal/types"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// Listener builds a user the way the auth layer would hand one to a room.
func Listener(id int, username string) types.User {
	return types.User{Id: id, Username: username}
}

// QueuedTrack builds a persisted track row for repository mocks.
func QueuedTrack(id, roomId, title string, votes int) database.Track {
	return database.Track{Id: id, RoomId: roomId, Title: title, Votes: votes}
}
