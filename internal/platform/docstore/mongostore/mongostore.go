// Package mongostore implements the document store on MongoDB. Update events
// come from change streams and need pre- and post-images enabled on the
// watched collection (changeStreamPreAndPostImages).
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clinic/clinic/internal/platform/docstore"
)

// Store implements docstore.Store and docstore.Watcher on one database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

// Connect dials uri and pings the primary before returning.
func Connect(ctx context.Context, uri, database string, logger zerolog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database), logger: logger}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnablePrePostImages turns on the images the change stream reads for the
// before/after state of an update.
func (s *Store) EnablePrePostImages(ctx context.Context, collection string) error {
	err := s.db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: collection},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}).Err()
	if err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceNotFound" {
			if err := s.db.CreateCollection(ctx, collection,
				options.CreateCollection().SetChangeStreamPreAndPostImages(bson.D{{Key: "enabled", Value: true}})); err != nil {
				return fmt.Errorf("create %s: %w", collection, err)
			}
			return nil
		}
		return fmt.Errorf("enable pre/post images on %s: %w", collection, err)
	}
	return nil
}

var mongoOps = map[docstore.Op]string{
	docstore.OpGreater:        "$gt",
	docstore.OpGreaterOrEqual: "$gte",
	docstore.OpLess:           "$lt",
	docstore.OpLessOrEqual:    "$lte",
}

// buildFilter translates where-clauses and the keyset cursor into a filter.
func buildFilter(q docstore.Query) bson.D {
	var and bson.A
	for _, f := range q.Where {
		if f.Op == docstore.OpEqual {
			and = append(and, bson.D{{Key: f.Field, Value: f.Value}})
			continue
		}
		and = append(and, bson.D{{Key: f.Field, Value: bson.D{{Key: mongoOps[f.Op], Value: f.Value}}}})
	}

	cursor, inclusive := q.StartAfter, false
	if q.StartAt != nil {
		cursor, inclusive = q.StartAt, true
	}
	if cursor != nil {
		cmp, idCmp := "$gt", "$gt"
		if q.OrderBy.Descending {
			cmp, idCmp = "$lt", "$lt"
		}
		if inclusive {
			idCmp += "e"
		}
		and = append(and, bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: q.OrderBy.Field, Value: bson.D{{Key: cmp, Value: cursor.Value}}}},
			bson.D{
				{Key: q.OrderBy.Field, Value: cursor.Value},
				{Key: "_id", Value: bson.D{{Key: idCmp, Value: cursor.ID}}},
			},
		}}})
	}

	if len(and) == 0 {
		return bson.D{}
	}
	return bson.D{{Key: "$and", Value: and}}
}

func buildSort(order docstore.Order) bson.D {
	dir := 1
	if order.Descending {
		dir = -1
	}
	return bson.D{{Key: order.Field, Value: dir}, {Key: "_id", Value: dir}}
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(buildSort(q.OrderBy)).SetLimit(int64(q.Limit))
	cur, err := s.db.Collection(q.Collection).Find(ctx, buildFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.Collection, err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
	}
	docs := make([]docstore.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, fromBSON(m))
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var m bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	d := fromBSON(m)
	return &d, nil
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]interface{}) (*docstore.Document, error) {
	id := uuid.NewString()
	doc := bson.M{"_id": id}
	for k, v := range fields {
		doc[k] = v
	}
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, docstore.ErrAlreadyExists
		}
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}
	d := fromBSON(doc)
	return &d, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.M(fields)}})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: field, Value: delta}}}})
	if err != nil {
		return fmt.Errorf("increment %s/%s.%s: %w", collection, id, field, err)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, collection, id string) (bool, error) {
	_, err := s.db.Collection(collection).InsertOne(ctx, bson.D{{Key: "_id", Value: id}})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func fromBSON(m bson.M) docstore.Document {
	d := docstore.Document{Fields: make(map[string]interface{}, len(m))}
	for k, v := range m {
		if k == "_id" {
			d.ID = fmt.Sprint(v)
			continue
		}
		d.Fields[k] = v
	}
	return d
}
