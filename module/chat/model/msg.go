package model

import (
	"time"

	"PPLink/module/delivery"
)

const MsgTableName = "msg"

// ContentType
const (
	ContentText  int32 = 1
	ContentImage int32 = 2
	ContentVoice int32 = 3
)

// Message 一条消息及其投递/已读投影。Version 用于乐观并发控制。
type Message struct {
	MessageID      string         `bson:"_id" json:"id"`
	ConversationID string         `bson:"conversation_id" json:"conversationId"`
	SenderID       string         `bson:"sender_id" json:"senderId"`
	ClientMsgID    string         `bson:"client_msg_id,omitempty" json:"clientMsgId,omitempty"` // 客户端幂等ID
	ContentType    int32          `bson:"content_type" json:"contentType"`                      // 1=文本,2=图片,3=语音
	Content        string         `bson:"content" json:"content"`
	CreateTime     time.Time      `bson:"create_time" json:"createdAt"`
	Delivery       delivery.State `bson:"delivery" json:"delivery"`
	Version        int64          `bson:"version" json:"-"`
}

func (m *Message) GetTableName() string {
	return MsgTableName
}

// Clone deep-copies the delivery sets.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Delivery = m.Delivery.Clone()
	return &cp
}

// ConversationMessages 同步结果中的一项：某会话最近的消息（新 -> 旧）。
type ConversationMessages struct {
	ConversationID string     `json:"conversationId"`
	Messages       []*Message `json:"messages"`
}
