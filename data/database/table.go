package database

// Table is implemented by every persisted model; the name is shared by the
// mongo collection and the postgres table.
type Table interface {
	GetTableName() string
}

const (
	TableProfiles     = "profiles"
	TableFriends      = "friends"
	TableRooms        = "chat_rooms"
	TableParticipants = "chat_participants"
	TableMessages     = "chat_messages"
)
