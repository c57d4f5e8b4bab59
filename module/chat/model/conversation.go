package model

import (
	"time"
)

// ConversationType
const (
	ConversationSingle int32 = 1 // 单聊
	ConversationGroup  int32 = 2 // 群聊
	ConversationSystem int32 = 3 // 系统通知
)

// Conversation 会话主档（一条记录对应一个会话，而不是一个成员视角）。
type Conversation struct {
	ConversationID   string    `bson:"conversation_id" json:"conversationId"`     // 会话ID
	ConversationType int32     `bson:"conversation_type" json:"conversationType"` // 1=单聊,2=群聊,3=系统通知
	Members          []string  `bson:"members" json:"members"`                    // 成员用户ID
	Title            string    `bson:"title,omitempty" json:"title,omitempty"`
	LastMessageAt    time.Time `bson:"last_message_at" json:"lastMessageAt"` // 最近一条消息时间，用于排序
	CreateTime       time.Time `bson:"create_time" json:"createTime"`
	UpdateTime       time.Time `bson:"update_time" json:"updateTime"`
}

func (c *Conversation) GetTableName() string {
	return "conversation"
}

func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}
