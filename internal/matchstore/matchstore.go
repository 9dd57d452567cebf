package matchstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/avvvet/duel-services/internal/match"
)

// ErrNotFound is returned when the match id has no record.
var ErrNotFound = errors.New("match not found")

// Store keeps the shared match records in a Mongo collection and implements
// lifecycle.MatchStore. Writes are $set overwrites of specific fields, no
// transactions: the last writer wins per field group, which is the behavior
// both clients are built around.
type Store struct {
	coll *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{coll: db.Collection("matches")}
}

// Get is a point read of one match record.
func (s *Store) Get(ctx context.Context, matchID string) (*match.Match, error) {
	m := &match.Match{}
	err := s.coll.FindOne(ctx, bson.M{"_id": matchID}).Decode(m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}
	return m, nil
}

// Update blindly overwrites the given fields and bumps updated_at, the
// freshness marker the clients resolve the fetch/push race with.
func (s *Store) Update(ctx context.Context, matchID string, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range fields {
		set[k] = v
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": matchID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update match %s: %w", matchID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscribe opens a change stream filtered to one match id and delivers full
// post-update documents to onChange. The returned cancel func closes the
// stream; after it returns no further callbacks fire.
func (s *Store) Subscribe(ctx context.Context, matchID string, onChange func(*match.Match)) (func(), error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: matchID}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	streamCtx, cancel := context.WithCancel(ctx)
	cs, err := s.coll.Watch(streamCtx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch match %s: %w", matchID, err)
	}

	go func() {
		defer cs.Close(context.Background())
		for cs.Next(streamCtx) {
			var ev struct {
				FullDocument *match.Match `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				log.Errorf("Error [Store.Subscribe] decode change for %s: %s", matchID, err)
				continue
			}
			if ev.FullDocument != nil {
				onChange(ev.FullDocument)
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			log.Errorf("Error [Store.Subscribe] stream for %s ended: %s", matchID, err)
		}
	}()

	return cancel, nil
}
