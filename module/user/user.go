// Package user is the read side of the user directory the push layer needs:
// resolving a user id to a public profile.
package user

import (
	"context"
	"errors"
	"sync"

	"PPLink/data/database"
	usermodel "PPLink/module/user/model"
	"PPLink/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type Directory interface {
	// PublicProfile returns errs.ErrNotFound for unknown or inactive users.
	PublicProfile(ctx context.Context, userID string) (*usermodel.PublicProfile, error)
}

// ===== Mongo =====

type MongoDirectory struct {
	coll *mongo.Collection
}

func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{coll: database.Coll(db, &usermodel.User{})}
}

func (d *MongoDirectory) PublicProfile(ctx context.Context, userID string) (*usermodel.PublicProfile, error) {
	var u usermodel.User
	err := d.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound.WrapMsg("user not found", "user_id", userID)
		}
		return nil, errs.ErrTransient.WrapMsg(err.Error(), "op", "find user")
	}
	if !u.Active() {
		return nil, errs.ErrNotFound.WrapMsg("user inactive", "user_id", userID)
	}
	p := u.Public()
	return &p, nil
}

// ===== Memory =====

type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]usermodel.User
}

func NewMemoryDirectory(users ...usermodel.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]usermodel.User, len(users))}
	for _, u := range users {
		d.users[u.UserID] = u
	}
	return d
}

func (d *MemoryDirectory) Put(u usermodel.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.UserID] = u
}

func (d *MemoryDirectory) PublicProfile(_ context.Context, userID string) (*usermodel.PublicProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok || !u.Active() {
		return nil, errs.ErrNotFound.WrapMsg("user not found", "user_id", userID)
	}
	p := u.Public()
	return &p, nil
}
