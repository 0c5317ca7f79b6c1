package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"magnetstream/internal/domain"
)

type streamDoc struct {
	ID         string `bson:"_id"`
	ContentID  string `bson:"contentId"`
	Name       string `bson:"name"`
	Status     string `bson:"status"`
	EndReason  string `bson:"endReason,omitempty"`
	TotalBytes int64  `bson:"totalBytes"`
	DoneBytes  int64  `bson:"doneBytes"`
	StartedAt  int64  `bson:"startedAt"`         // unix millis
	EndedAt    int64  `bson:"endedAt,omitempty"` // unix millis; 0 while live
}

// HistoryRepository persists one document per stream session.
type HistoryRepository struct {
	collection *mongo.Collection
}

func NewHistoryRepository(client *mongo.Client, dbName, collectionName string) *HistoryRepository {
	return &HistoryRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *HistoryRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "startedAt", Value: -1}}},
		{Keys: bson.D{{Key: "contentId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *HistoryRepository) RecordStarted(ctx context.Context, rec domain.StreamRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": string(rec.ID)},
		toDoc(rec),
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *HistoryRepository) RecordEnded(ctx context.Context, id domain.StreamID, status domain.StreamStatus, reason string, doneBytes int64, at time.Time) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": string(id)}, endedUpdate(status, reason, doneBytes, at))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *HistoryRepository) ListRecent(ctx context.Context, limit int) ([]domain.StreamRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "startedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []streamDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]domain.StreamRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromDoc(doc))
	}
	return records, nil
}

// Get returns a single history entry.
func (r *HistoryRepository) Get(ctx context.Context, id domain.StreamID) (domain.StreamRecord, error) {
	var doc streamDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.StreamRecord{}, domain.ErrNotFound
		}
		return domain.StreamRecord{}, err
	}
	return fromDoc(doc), nil
}

func endedUpdate(status domain.StreamStatus, reason string, doneBytes int64, at time.Time) bson.M {
	set := bson.M{
		"status":    string(status),
		"endReason": reason,
		"endedAt":   at.UTC().UnixMilli(),
	}
	update := bson.M{"$set": set}
	if doneBytes > 0 {
		// Never lower a previously recorded value.
		update["$max"] = bson.M{"doneBytes": doneBytes}
	}
	return update
}

func toDoc(rec domain.StreamRecord) streamDoc {
	doc := streamDoc{
		ID:         string(rec.ID),
		ContentID:  string(rec.ContentID),
		Name:       rec.Name,
		Status:     string(rec.Status),
		EndReason:  rec.EndReason,
		TotalBytes: rec.TotalBytes,
		DoneBytes:  rec.DoneBytes,
		StartedAt:  rec.StartedAt.UTC().UnixMilli(),
	}
	if rec.EndedAt != nil {
		doc.EndedAt = rec.EndedAt.UTC().UnixMilli()
	}
	return doc
}

func fromDoc(doc streamDoc) domain.StreamRecord {
	rec := domain.StreamRecord{
		ID:         domain.StreamID(doc.ID),
		ContentID:  domain.ContentID(doc.ContentID),
		Name:       doc.Name,
		Status:     domain.StreamStatus(doc.Status),
		EndReason:  doc.EndReason,
		TotalBytes: doc.TotalBytes,
		DoneBytes:  doc.DoneBytes,
		StartedAt:  time.UnixMilli(doc.StartedAt).UTC(),
	}
	if doc.EndedAt > 0 {
		ended := time.UnixMilli(doc.EndedAt).UTC()
		rec.EndedAt = &ended
	}
	return rec
}
