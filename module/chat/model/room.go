package model

import (
	"time"

	"moodchat/data/database"
)

// Room 会话（单聊 / 群聊）
type Room struct {
	ID            string    `json:"id" bson:"_id"`
	Name          string    `json:"name,omitempty" bson:"name,omitempty"`
	IsDirect      bool      `json:"is_direct_message" bson:"is_direct_message"`
	CreatedBy     string    `json:"created_by" bson:"created_by"`
	DirectKey     string    `json:"-" bson:"direct_key,omitempty"` // 单聊 = PairKey(a,b)，唯一；群聊为空
	MemberIDs     []string  `json:"member_ids" bson:"member_ids"`  // 成员快照，用于 feed 路由
	LastSeq       int64     `json:"last_seq" bson:"last_seq"`      // 房间内消息序号，单调递增
	LastMessageAt time.Time `json:"-" bson:"last_message_at"`      // 最近一条消息时间，用于单调时间戳
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"` // 新消息时刷新
}

func (r *Room) GetTableName() string {
	return database.TableRooms
}

func (r *Room) HasMember(id string) bool {
	for _, m := range r.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// Membership 房间成员 + 已读游标
type Membership struct {
	RoomID      string    `json:"chat_room_id" bson:"chat_room_id"`
	UserID      string    `json:"user_id" bson:"user_id"`
	LastReadAt  time.Time `json:"last_read_at" bson:"last_read_at"`
	LastReadSeq int64     `json:"last_read_seq" bson:"last_read_seq"` // 读到的最大 seq
	JoinedAt    time.Time `json:"joined_at" bson:"joined_at"`
}

func (m *Membership) GetTableName() string {
	return database.TableParticipants
}

// RoomSummary is what a room listing returns per room.
type RoomSummary struct {
	Room        *Room         `json:"room"`
	Members     []*Membership `json:"members"`
	LastMessage *Message      `json:"last_message,omitempty"`
	Unread      int64         `json:"unread"`
}
