package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

const (
	sessionsCollName = "sessions"
	callsCollName    = "call_records"
)

// MongoStore keeps session documents in a MongoDB collection. All writes
// are merge-patches on dotted field paths so concurrent participants
// never clobber each other; ICE candidates accumulate via $push.
// Subscriptions use change streams with full-document lookup, so the
// collection must live on a replica set.
type MongoStore struct {
	sessions *mongo.Collection
	emptyTTL time.Duration
	now      func() time.Time
}

type mongoOption func(*MongoStore)

func WithMongoClock(now func() time.Time) mongoOption {
	return func(s *MongoStore) { s.now = now }
}

func WithMongoEmptyTTL(ttl time.Duration) mongoOption {
	return func(s *MongoStore) { s.emptyTTL = ttl }
}

func NewMongoStore(db *mongo.Database, opts ...mongoOption) *MongoStore {
	s := &MongoStore{
		sessions: db.Collection(sessionsCollName),
		emptyTTL: DefaultEmptyTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

func (s *MongoStore) CreateSession(ctx context.Context, id domain.SessionID, host domain.UserID) error {
	doc := domain.NewSession(id, host, s.now().UTC())
	_, err := s.sessions.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return storeErr("create session", err)
	}
	log.Info().Str("module", "store.mongo").Str("session", string(id)).Str("host", string(host)).Msg("session created")
	return nil
}

// fetchLive reads the document and applies lazy expiry: a past expiresAt
// deletes the document and reports it as gone.
func (s *MongoStore) fetchLive(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var sess domain.Session
	err := s.sessions.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr("find session", err)
	}
	if sess.Expired(s.now()) {
		if _, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
			log.Warn().Err(err).Str("module", "store.mongo").Str("session", string(id)).Msg("expired session delete failed")
		}
		return nil, domain.ErrSessionExpired
	}
	return &sess, nil
}

func joinUpdate(user domain.UserID, now time.Time) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: fmt.Sprintf("participants.%s", user), Value: domain.ParticipantInfo{JoinedAt: now, IsMicOn: true}},
		}},
		{Key: "$unset", Value: bson.D{{Key: "expiresAt", Value: ""}}},
	}
}

func (s *MongoStore) JoinSession(ctx context.Context, id domain.SessionID, user domain.UserID) error {
	if _, err := s.fetchLive(ctx, id); err != nil {
		return err
	}
	if _, err := s.sessions.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, joinUpdate(user, s.now().UTC())); err != nil {
		return storeErr("join session", err)
	}
	return nil
}

// leaveUpdate unsets the leaver's roster entry, its outgoing signaling
// subtree, and every incoming entry other participants addressed to it.
func leaveUpdate(sess *domain.Session, user domain.UserID) bson.D {
	unset := bson.D{
		{Key: fmt.Sprintf("participants.%s", user), Value: ""},
		{Key: fmt.Sprintf("signaling.%s", user), Value: ""},
	}
	for from := range sess.Signaling {
		if from == user {
			continue
		}
		if _, ok := sess.Signaling[from][user]; ok {
			unset = append(unset, bson.E{Key: fmt.Sprintf("signaling.%s.%s", from, user), Value: ""})
		}
	}
	return bson.D{{Key: "$unset", Value: unset}}
}

func (s *MongoStore) LeaveSession(ctx context.Context, id domain.SessionID, user domain.UserID) error {
	sess, err := s.fetchLive(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionExpired) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.sessions.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, leaveUpdate(sess, user)); err != nil {
		return storeErr("leave session", err)
	}
	delete(sess.Participants, user)
	if len(sess.Participants) == 0 {
		exp := s.now().UTC().Add(s.emptyTTL)
		_, err := s.sessions.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: id}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "expiresAt", Value: exp}}}},
		)
		if err != nil {
			return storeErr("mark session empty", err)
		}
	}
	return nil
}

func (s *MongoStore) UpdateMicStatus(ctx context.Context, id domain.SessionID, user domain.UserID, isMicOn bool) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: fmt.Sprintf("participants.%s.isMicOn", user), Value: isMicOn},
		}}},
	)
	if err != nil {
		return storeErr("update mic status", err)
	}
	return nil
}

func signalPath(from, to domain.UserID, field string) string {
	return fmt.Sprintf("signaling.%s.%s.%s", from, to, field)
}

func (s *MongoStore) SetOffer(ctx context.Context, id domain.SessionID, from, to domain.UserID, offer domain.SessionDescription) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: signalPath(from, to, "offer"), Value: offer}}}},
	)
	if err != nil {
		return storeErr("set offer", err)
	}
	return nil
}

func (s *MongoStore) SetAnswer(ctx context.Context, id domain.SessionID, from, to domain.UserID, answer domain.SessionDescription) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: signalPath(from, to, "answer"), Value: answer}}}},
	)
	if err != nil {
		return storeErr("set answer", err)
	}
	return nil
}

func (s *MongoStore) AddIceCandidate(ctx context.Context, id domain.SessionID, from, to domain.UserID, cand domain.IceCandidate) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$push", Value: bson.D{{Key: signalPath(from, to, "iceCandidates"), Value: cand}}}},
	)
	if err != nil {
		return storeErr("add ice candidate", err)
	}
	return nil
}

func (s *MongoStore) ListenToSession(ctx context.Context, id domain.SessionID, fn func(*domain.Session)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "documentKey._id", Value: id},
		}}},
	}
	cs, err := s.sessions.Watch(watchCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, storeErr("watch session", err)
	}

	// Deliver the current document first so a late subscriber still sees
	// roster and offers written before it attached.
	if sess, err := s.fetchLive(watchCtx, id); err == nil {
		go fn(sess)
	}

	go func() {
		defer func() {
			if err := cs.Close(context.Background()); err != nil {
				log.Warn().Err(err).Str("module", "store.mongo").Msg("change stream close")
			}
		}()
		for cs.Next(watchCtx) {
			var ev struct {
				OperationType string         `bson:"operationType"`
				FullDocument  domain.Session `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				log.Error().Err(err).Str("module", "store.mongo").Str("session", string(id)).Msg("malformed change event")
				continue
			}
			if ev.OperationType == "delete" {
				continue
			}
			doc := ev.FullDocument
			fn(&doc)
		}
		if err := cs.Err(); err != nil && watchCtx.Err() == nil {
			log.Error().Err(err).Str("module", "store.mongo").Str("session", string(id)).Msg("change stream failed")
		}
	}()

	return cancel, nil
}

func (s *MongoStore) SessionExists(ctx context.Context, id domain.SessionID) (bool, error) {
	_, err := s.fetchLive(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionExpired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MongoStore) DeleteSession(ctx context.Context, id domain.SessionID) error {
	if _, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return storeErr("delete session", err)
	}
	return nil
}

var _ core.SignalingStore = (*MongoStore)(nil)
