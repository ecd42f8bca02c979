package database

import (
	"github.com/stretchr/testify/mock"
)

type MockMusicRepository struct {
	mock.Mock
}

func (m *MockMusicRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockMusicRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMusicRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMusicRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMusicRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockMusicRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockMusicRepository) DeleteRoom(externalId string) error {
	args := m.Called(externalId)
	return args.Error(0)
}
func (m *MockMusicRepository) GetQueue(roomId string) ([]Track, error) {
	args := m.Called(roomId)
	if tracks, ok := args.Get(0).([]Track); ok {
		return tracks, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMusicRepository) AddTrack(params AddTrackParams) (Track, error) {
	args := m.Called(params)
	return args.Get(0).(Track), args.Error(1)
}
func (m *MockMusicRepository) RemoveTrack(roomId, trackId string) error {
	args := m.Called(roomId, trackId)
	return args.Error(0)
}
func (m *MockMusicRepository) CreateVote(roomId, trackId string, accountId int) (Track, error) {
	args := m.Called(roomId, trackId, accountId)
	return args.Get(0).(Track), args.Error(1)
}
func (m *MockMusicRepository) DeleteVote(roomId, trackId string, accountId int) (Track, error) {
	args := m.Called(roomId, trackId, accountId)
	return args.Get(0).(Track), args.Error(1)
}
func (m *MockMusicRepository) GetPlaybackState(roomId string) (PlaybackState, error) {
	args := m.Called(roomId)
	return args.Get(0).(PlaybackState), args.Error(1)
}
func (m *MockMusicRepository) SavePlaybackState(state PlaybackState) error {
	args := m.Called(state)
	return args.Error(0)
}
