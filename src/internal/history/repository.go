package history

import (
	"context"
	"time"

	"session-relay-svc/src/clients"
	"session-relay-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Entry is one append-only record of a session-coordination event. The
// presence table is overwritten in place; the durable login/logout trail
// lives here.
type Entry struct {
	Role      string    `bson:"role" json:"role"`
	UserID    int64     `bson:"user_id" json:"userId"`
	AccountID string    `bson:"account_id,omitempty" json:"accountId,omitempty"`
	Action    string    `bson:"action" json:"action"`
	TokenHash string    `bson:"token_hash,omitempty" json:"tokenHash,omitempty"`
	IPAddress string    `bson:"ip_address,omitempty" json:"ipAddress,omitempty"`
	UserAgent string    `bson:"user_agent,omitempty" json:"userAgent,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

type Repository interface {
	Record(ctx context.Context, entry *Entry) error
	ListRecent(ctx context.Context, limit int64) ([]*Entry, error)
}

type repository struct {
	collection *mongo.Collection
}

func NewHistoryRepository(db *clients.MongoDB, collectionName string) Repository {
	collection := db.Database.Collection(collectionName)
	return &repository{collection: collection}
}

func (r *repository) Record(ctx context.Context, entry *Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	_, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"role":    entry.Role,
			"user_id": entry.UserID,
			"action":  entry.Action,
		}).Error("Failed to record session history entry")
		return models.ErrDatabaseInsert
	}

	return nil
}

func (r *repository) ListRecent(ctx context.Context, limit int64) ([]*Entry, error) {
	opts := options.Find().
		SetLimit(limit).
		SetSort(bson.M{"timestamp": -1})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		logrus.WithError(err).Error("Failed to query session history")
		return nil, models.ErrDatabaseQuery
	}
	defer cursor.Close(ctx)

	var entries []*Entry
	for cursor.Next(ctx) {
		var entry Entry
		if err := cursor.Decode(&entry); err != nil {
			logrus.WithError(err).Error("Failed to decode session history entry")
			continue
		}
		entries = append(entries, &entry)
	}

	if err := cursor.Err(); err != nil {
		logrus.WithError(err).Error("Cursor error")
		return nil, models.ErrDatabaseQuery
	}

	return entries, nil
}
