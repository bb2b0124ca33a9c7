package model

import (
	"time"

	"moodchat/data/database"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageShare MessageType = "share" // 结构化分享（歌单等）
)

func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageShare
}

// SharePayload is filled by the playlist feature; the chat core only stores it.
type SharePayload struct {
	ID            string `json:"id" bson:"id"`
	Name          string `json:"name" bson:"name"`
	ExternalURL   string `json:"external_url" bson:"external_url"`
	CoverImageURL string `json:"cover_image_url,omitempty" bson:"cover_image_url,omitempty"`
	ItemCount     int    `json:"item_count" bson:"item_count"`
	Duration      string `json:"duration" bson:"duration"`
}

// Message 房间内的一条消息，创建后不可变
type Message struct {
	ID          string        `json:"id" bson:"_id"`
	RoomID      string        `json:"chat_room_id" bson:"chat_room_id"`
	SenderID    string        `json:"sender_id" bson:"sender_id"`
	Body        string        `json:"message" bson:"message"`
	Type        MessageType   `json:"message_type" bson:"message_type"`
	Metadata    *SharePayload `json:"metadata,omitempty" bson:"metadata,omitempty"`
	ClientMsgID string        `json:"client_msg_id,omitempty" bson:"client_msg_id,omitempty"` // 客户端幂等/关联 token
	Seq         int64         `json:"seq" bson:"seq"`                                         // 房间内序号
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
}

func (m *Message) GetTableName() string {
	return database.TableMessages
}

// SameContent compares what the sender controls; used to tell a retry from a token clash.
func (m *Message) SameContent(o *Message) bool {
	if m.RoomID != o.RoomID || m.Body != o.Body || m.Type != o.Type {
		return false
	}
	if (m.Metadata == nil) != (o.Metadata == nil) {
		return false
	}
	return m.Metadata == nil || *m.Metadata == *o.Metadata
}
