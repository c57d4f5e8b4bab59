package store

import (
	"context"
	"errors"
	"time"

	"PPLink/data/database"
	chatmodel "PPLink/module/chat/model"
	"PPLink/module/delivery"
	"PPLink/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Mongo struct {
	ConvColl *mongo.Collection // conversation
	MsgColl  *mongo.Collection // msg
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		ConvColl: database.Coll(db, &chatmodel.Conversation{}),
		MsgColl:  database.Coll(db, &chatmodel.Message{}),
	}
}

// EnsureIndexes 会话按成员查询；消息按会话+时间倒序查询。
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	if _, err := s.ConvColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "members", Value: 1}, {Key: "last_message_at", Value: -1}}},
	}); err != nil {
		return errs.WrapMsg(err, "create conversation indexes")
	}
	if _, err := s.MsgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "create_time", Value: -1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "delivery.read_by", Value: 1}}},
	}); err != nil {
		return errs.WrapMsg(err, "create message indexes")
	}
	return nil
}

func (s *Mongo) ConversationsForUser(ctx context.Context, userID string) ([]*chatmodel.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "conversation_id", Value: 1}})
	cur, err := s.ConvColl.Find(ctx, bson.M{"members": userID}, opts)
	if err != nil {
		return nil, transient(err, "find conversations")
	}
	var out []*chatmodel.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, transient(err, "decode conversations")
	}
	return out, nil
}

func (s *Mongo) GetConversation(ctx context.Context, conversationID string) (*chatmodel.Conversation, error) {
	var c chatmodel.Conversation
	if err := s.ConvColl.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound.WrapMsg("conversation not found", "conversation_id", conversationID)
		}
		return nil, transient(err, "find conversation")
	}
	return &c, nil
}

func (s *Mongo) RecentMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]*chatmodel.Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"create_time":     bson.M{"$gte": since},
	}
	opts := options.Find().SetSort(bson.D{{Key: "create_time", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findMessages(ctx, filter, opts)
}

func (s *Mongo) UnreadFor(ctx context.Context, conversationID, userID string, limit int) ([]*chatmodel.Message, error) {
	filter := bson.M{
		"conversation_id":  conversationID,
		"sender_id":        bson.M{"$ne": userID},
		"delivery.read_by": bson.M{"$ne": userID},
		"delivery.status":  bson.M{"$ne": delivery.StatusFailed},
	}
	opts := options.Find().SetSort(bson.D{{Key: "create_time", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findMessages(ctx, filter, opts)
}

func (s *Mongo) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*chatmodel.Message, error) {
	cur, err := s.MsgColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, transient(err, "find messages")
	}
	var out []*chatmodel.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, transient(err, "decode messages")
	}
	return out, nil
}

// CreateMessage 写消息并推进会话的 last_message_at（只在变大时更新）。
func (s *Mongo) CreateMessage(ctx context.Context, m *chatmodel.Message) error {
	if _, err := s.MsgColl.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrArgs.WrapMsg("duplicate message id", "message_id", m.MessageID)
		}
		return transient(err, "insert message")
	}
	filter, update := touchConversation(m)
	_, err := s.ConvColl.UpdateOne(ctx, filter, update)
	if err != nil {
		return transient(err, "touch conversation")
	}
	return nil
}

// touchConversation moves last_message_at forward with $max, which also
// sets the field on conversations that were inserted without it.
func touchConversation(m *chatmodel.Message) (filter, update bson.M) {
	filter = bson.M{"conversation_id": m.ConversationID}
	update = bson.M{"$max": bson.M{"last_message_at": m.CreateTime, "update_time": m.CreateTime}}
	return filter, update
}

func (s *Mongo) GetMessage(ctx context.Context, messageID string) (*chatmodel.Message, error) {
	var m chatmodel.Message
	if err := s.MsgColl.FindOne(ctx, bson.M{"_id": messageID}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound.WrapMsg("message not found", "message_id", messageID)
		}
		return nil, transient(err, "find message")
	}
	return &m, nil
}

func (s *Mongo) UpdateDelivery(ctx context.Context, messageID string, version int64, st delivery.State) (*chatmodel.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var out chatmodel.Message
	err := s.MsgColl.FindOneAndUpdate(ctx,
		bson.M{"_id": messageID, "version": version},
		bson.M{"$set": bson.M{"delivery": st}, "$inc": bson.M{"version": 1}},
		opts,
	).Decode(&out)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, transient(err, "update delivery")
	}
	if _, gerr := s.GetMessage(ctx, messageID); gerr != nil {
		return nil, gerr
	}
	return nil, errs.ErrConflict.WrapMsg("stale message version", "message_id", messageID, "want", version)
}

func transient(err error, op string) error {
	return errs.ErrTransient.WrapMsg(err.Error(), "op", op)
}
