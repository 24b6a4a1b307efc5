package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clinic/clinic/internal/platform/docstore"
)

type changeEvent struct {
	ID          bson.Raw `bson:"_id"`
	DocumentKey struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.M `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M `bson:"fullDocumentBeforeChange"`
}

// toChangeEvent converts a decoded change stream entry. The resume token is
// unique per change and is used as the event id.
func toChangeEvent(collection string, ce changeEvent) docstore.ChangeEvent {
	ev := docstore.ChangeEvent{
		Collection: collection,
		DocumentID: fmt.Sprint(ce.DocumentKey.ID),
	}
	if data, ok := ce.ID.Lookup("_data").StringValueOK(); ok {
		ev.ID = data
	} else {
		ev.ID = ce.ID.String()
	}
	if ce.FullDocumentBeforeChange != nil {
		d := fromBSON(ce.FullDocumentBeforeChange)
		ev.Before = &d
	}
	if ce.FullDocument != nil {
		d := fromBSON(ce.FullDocument)
		ev.After = &d
	}
	return ev
}

func updatePipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"update", "replace"}}}},
		}}},
	}
}

// Watch opens a change stream on collection and hands every update to
// handler. The stream resumes from the last seen token after transient errors.
func (s *Store) Watch(ctx context.Context, collection string, handler docstore.EventHandler) error {
	opts := options.ChangeStream().
		SetFullDocument(options.WhenAvailable).
		SetFullDocumentBeforeChange(options.WhenAvailable)

	var resume bson.Raw
	for {
		if resume != nil {
			opts.SetResumeAfter(resume)
		}
		stream, err := s.db.Collection(collection).Watch(ctx, updatePipeline(), opts)
		if err != nil {
			return fmt.Errorf("watch %s: %w", collection, err)
		}
		s.logger.Info().Str("collection", collection).Msg("watching document updates")

		for stream.Next(ctx) {
			var ce changeEvent
			if err := stream.Decode(&ce); err != nil {
				s.logger.Error().Err(err).Msg("skipping undecodable change event")
				continue
			}
			handler(ctx, toChangeEvent(collection, ce))
			resume = stream.ResumeToken()
		}
		err = stream.Err()
		_ = stream.Close(context.Background())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Error().Err(err).Str("collection", collection).Msg("change stream interrupted, resuming")
		}
	}
}
