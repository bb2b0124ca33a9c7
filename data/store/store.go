// Package store holds what every persistence backend shares: the sentinel
// errors services translate at their boundary and the mapping from a
// committed row to the feed events it produces.
package store

import (
	"errors"
	"time"

	"moodchat/data/database"
	"moodchat/module/chat/model"
	"moodchat/module/feed"
)

var (
	// ErrNoRows 记录不存在，或条件更新（CAS）未命中
	ErrNoRows = errors.New("store: no rows")
	// ErrDuplicate 唯一约束冲突（pair_key / direct_key / email / client_msg_id）
	ErrDuplicate = errors.New("store: duplicate key")
)

// MembershipKey is the feed key of a participant row.
func MembershipKey(roomID, userID string) string {
	return roomID + ":" + userID
}

// EventsFor maps a committed change of rec onto the feed topics that observe it.
// Profiles have no topic and yield nothing.
func EventsFor(op feed.Op, rec database.Table, at time.Time) ([]feed.Event, error) {
	switch r := rec.(type) {
	case *model.FriendLink:
		return feed.Fanout(op, r.GetTableName(), r.ID, r, at,
			feed.ProfileFriendLinks(r.RequesterID), feed.ProfileFriendLinks(r.RecipientID))
	case *model.Room:
		topics := make([]string, 0, len(r.MemberIDs))
		for _, id := range r.MemberIDs {
			topics = append(topics, feed.ProfileRooms(id))
		}
		return feed.Fanout(op, r.GetTableName(), r.ID, r, at, topics...)
	case *model.Membership:
		return feed.Fanout(op, r.GetTableName(), MembershipKey(r.RoomID, r.UserID), r, at,
			feed.ProfileRooms(r.UserID))
	case *model.Message:
		return feed.Fanout(op, r.GetTableName(), r.ID, r, at, feed.RoomMessages(r.RoomID))
	default:
		return nil, nil
	}
}
