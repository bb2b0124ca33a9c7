package model

import (
	"time"

	"moodchat/data/database"
)

type FriendStatus string

const (
	FriendPending   FriendStatus = "pending"
	FriendAccepted  FriendStatus = "accepted"
	FriendRejected  FriendStatus = "rejected"
	FriendCancelled FriendStatus = "cancelled"
)

// Active links are the only ones kept in the store; rejected and cancelled
// requests are deleted, which frees the pair for a fresh request.
func (s FriendStatus) Active() bool {
	return s == FriendPending || s == FriendAccepted
}

// FriendLink 好友申请 / 好友关系（单条有向记录，接受后原地改状态）
// pair_key 上建唯一索引，保证任意无序对 {A,B} 同时最多一条有效记录。
type FriendLink struct {
	ID          string       `json:"id" bson:"_id"`
	RequesterID string       `json:"requester_id" bson:"user_id"`   // 发起方
	RecipientID string       `json:"recipient_id" bson:"friend_id"` // 接收方
	Status      FriendStatus `json:"status" bson:"status"`
	PairKey     string       `json:"-" bson:"pair_key"` // PairKey(requester, recipient)
	CreatedAt   time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" bson:"updated_at"`
}

func (l *FriendLink) GetTableName() string {
	return database.TableFriends
}

// Involves reports whether id is either side of the link.
func (l *FriendLink) Involves(id string) bool {
	return l.RequesterID == id || l.RecipientID == id
}

// Other returns the counterpart of id.
func (l *FriendLink) Other(id string) string {
	if l.RequesterID == id {
		return l.RecipientID
	}
	return l.RequesterID
}

// PairKey 无序对归一化：小的在前
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// LinkRole selects which side of a link a listing is about.
type LinkRole int

const (
	RoleEither LinkRole = iota
	RoleRequester
	RoleRecipient
)

type LinkFilter struct {
	Role   LinkRole
	Status FriendStatus
}
