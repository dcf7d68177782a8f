package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// MongoCallRecords stores one 1:1 call record per conversation.
type MongoCallRecords struct {
	coll *mongo.Collection
}

func NewMongoCallRecords(db *mongo.Database) *MongoCallRecords {
	return &MongoCallRecords{coll: db.Collection(callsCollName)}
}

func (s *MongoCallRecords) PutCall(ctx context.Context, rec domain.CallRecord) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: rec.ConversationID}},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return storeErr("put call record", err)
	}
	return nil
}

func (s *MongoCallRecords) GetCall(ctx context.Context, conversationID string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: conversationID}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, storeErr("find call record", err)
	}
	return &rec, nil
}

func callStatusUpdate(status domain.CallStatus, durationSec *int) bson.D {
	set := bson.D{{Key: "callStatus", Value: status}}
	if durationSec != nil {
		set = append(set, bson.E{Key: "callDuration", Value: *durationSec})
	}
	return bson.D{{Key: "$set", Value: set}}
}

func (s *MongoCallRecords) SetCallStatus(ctx context.Context, conversationID, callID string, status domain.CallStatus, durationSec *int) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: conversationID}, {Key: "callId", Value: callID}},
		callStatusUpdate(status, durationSec),
	)
	if err != nil {
		return storeErr("set call status", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrCallNotFound
	}
	return nil
}

func (s *MongoCallRecords) ListenToCall(ctx context.Context, conversationID string, fn func(domain.CallRecord)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: conversationID}}}},
	}
	cs, err := s.coll.Watch(watchCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, storeErr("watch call record", err)
	}

	if rec, err := s.GetCall(watchCtx, conversationID); err == nil {
		go fn(*rec)
	}

	go func() {
		defer func() {
			if err := cs.Close(context.Background()); err != nil {
				log.Warn().Err(err).Str("module", "store.mongo").Msg("call record stream close")
			}
		}()
		for cs.Next(watchCtx) {
			var ev struct {
				FullDocument domain.CallRecord `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				log.Error().Err(err).Str("module", "store.mongo").Str("conversation", conversationID).Msg("malformed call record event")
				continue
			}
			fn(ev.FullDocument)
		}
	}()

	return cancel, nil
}

var _ core.CallRecordStore = (*MongoCallRecords)(nil)
