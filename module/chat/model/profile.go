package model

import (
	"strings"
	"time"

	"moodchat/data/database"
)

// Account 由外部认证方签发，只读引用
type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Profile 每个 Account 对应一条，首次登录时惰性创建
type Profile struct {
	ID        string    `json:"id" bson:"_id"`                                    // = Account.ID
	Name      string    `json:"name,omitempty" bson:"name,omitempty"`             // 显示名（可选）
	Email     string    `json:"email" bson:"email"`                               // 小写存储，唯一
	AvatarURL string    `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"` // 头像（可选）
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (p *Profile) GetTableName() string {
	return database.TableProfiles
}

// NormalizeEmail is applied on every write and lookup so the unique index is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DisplayName falls back to the local part of the email.
func (p *Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if i := strings.IndexByte(p.Email, '@'); i > 0 {
		return p.Email[:i]
	}
	return p.Email
}
