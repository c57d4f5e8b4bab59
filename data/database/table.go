// Package database holds the helpers shared by the Mongo-backed stores.
package database

import "go.mongodb.org/mongo-driver/mongo"

// Table is implemented by every persisted document type.
type Table interface {
	GetTableName() string
}

// Coll returns the collection backing t in db.
func Coll(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
