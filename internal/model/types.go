package model

import "time"

// User is an account row. Accounts are created by the backend signup flow
// and are read-only here.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chat is a conversation. LastMessage, UnreadCount and Tags are derived
// during fetch enrichment and never travel in chat rows.
type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsGroup   bool      `json:"is_group"`
	AvatarURL string    `json:"avatar_url"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	LastMessage *Message `json:"-"`
	UnreadCount int      `json:"-"`
	Tags        []Tag    `json:"-"`
}

// Message is immutable once created except for the read flag. SenderName is
// derived by joining the sender's user row.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	SentBy    string    `json:"sent_by"`
	CreatedAt time.Time `json:"created_at"`

	SenderName string `json:"-"`
}

// Tag is a label attachable to many chats.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}
