package store

import (
	"testing"
	"time"

	chatmodel "PPLink/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
)

func TestTouchConversationMatchesMissingField(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	filter, update := touchConversation(&chatmodel.Message{MessageID: "m1", ConversationID: "c1", CreateTime: at})

	if len(filter) != 1 || filter["conversation_id"] != "c1" {
		t.Errorf("filter = %v, want only conversation_id", filter)
	}
	if _, ok := update["$set"]; ok {
		t.Error("unconditional $set would move last_message_at backwards")
	}
	mx, ok := update["$max"].(bson.M)
	if !ok {
		t.Fatalf("update = %v, want $max", update)
	}
	if got, _ := mx["last_message_at"].(time.Time); !got.Equal(at) {
		t.Errorf("$max.last_message_at = %v, want %v", mx["last_message_at"], at)
	}
}
