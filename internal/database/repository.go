package database

type MusicRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	DeleteRoom(externalId string) error
	GetQueue(roomId string) ([]Track, error)
	AddTrack(params AddTrackParams) (Track, error)
	RemoveTrack(roomId, trackId string) error
	CreateVote(roomId, trackId string, accountId int) (Track, error)
	DeleteVote(roomId, trackId string, accountId int) (Track, error)
	GetPlaybackState(roomId string) (PlaybackState, error)
	SavePlaybackState(state PlaybackState) error
}
