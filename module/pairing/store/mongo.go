package store

import (
	"context"
	"errors"
	"time"

	"PPLink/data/database"
	"PPLink/module/pairing/model"
	"PPLink/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores challenges in one collection. A TTL index on expires_at lets
// the server purge lapsed challenges; reads still check expiry themselves
// since the TTL monitor only runs once a minute.
type Mongo struct {
	coll *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{coll: database.Coll(db, &model.Challenge{})}
}

// EnsureIndexes creates the unique token index and the expiry TTL index.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_token"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at"),
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "create pairing indexes")
	}
	return nil
}

func (m *Mongo) Create(ctx context.Context, c *model.Challenge) error {
	if _, err := m.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrArgs.WrapMsg("duplicate challenge", "id", c.ID)
		}
		return transient(err, "insert challenge")
	}
	return nil
}

func (m *Mongo) GetByID(ctx context.Context, id string) (*model.Challenge, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *Mongo) GetByToken(ctx context.Context, token string) (*model.Challenge, error) {
	return m.findOne(ctx, bson.M{"token": token})
}

func (m *Mongo) findOne(ctx context.Context, filter bson.M) (*model.Challenge, error) {
	var c model.Challenge
	if err := m.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound()
		}
		return nil, transient(err, "find challenge")
	}
	return &c, nil
}

func (m *Mongo) CompareAndSwap(ctx context.Context, id string, from, to model.State, userID string, now time.Time) (*model.Challenge, error) {
	set := bson.M{"state": to, "updated_at": now}
	if userID != "" {
		set["authorizing_user_id"] = userID
	}
	filter := bson.M{
		"_id":        id,
		"state":      from,
		"expires_at": bson.M{"$gt": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var out model.Challenge
	err := m.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&out)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, transient(err, "cas challenge")
	}

	// lost: tell absent/expired apart from a state mismatch
	cur, gerr := m.GetByID(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if cur.Expired(now) {
		return nil, notFound("id", id)
	}
	return nil, stateMismatch(id, from, cur.State)
}

func (m *Mongo) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, transient(err, "purge challenges")
	}
	return res.DeletedCount, nil
}
