package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// MongoStore keeps one collection per entity type and uses change streams
// as the push channel. The deployment must be a replica set.
type MongoStore struct {
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongoStore builds a store over db.
func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{db: db, logger: logger}
}

func (s *MongoStore) collection(entityType domain.EntityType) *mongo.Collection {
	return s.db.Collection(string(entityType))
}

func (s *MongoStore) Apply(ctx context.Context, m domain.PendingMutation) (domain.Document, error) {
	coll := s.collection(m.EntityType)

	switch m.Kind {
	case domain.MutationCreate:
		if domain.IsTempID(m.TargetID) {
			existing, err := s.findOne(ctx, coll, bson.M{FieldClientRef: m.TargetID})
			if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
				return nil, classifyMongo(err)
			}
			if existing != nil {
				return existing, nil
			}
		}
		doc, err := prepare(m, uuid.NewString(), nil)
		if err != nil {
			return nil, err
		}
		if _, err := coll.InsertOne(ctx, toBSON(doc)); err != nil {
			return nil, classifyMongo(err)
		}
		return doc, nil

	case domain.MutationUpdate:
		current, err := s.findOne(ctx, coll, bson.M{"_id": m.TargetID})
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, Rejectedf("%s %s not found", m.EntityType, m.TargetID)
		}
		if err != nil {
			return nil, classifyMongo(err)
		}
		if alreadyApplied(m, current) {
			return current, nil
		}
		doc, err := prepare(m, m.TargetID, current)
		if err != nil {
			return nil, err
		}
		// Guard on the version we read; a concurrent writer makes this
		// attempt fail as Unknown and it is retried on top of their write.
		filter := bson.M{"_id": m.TargetID, FieldLastMutationID: current[FieldLastMutationID]}
		res, err := coll.ReplaceOne(ctx, filter, toBSON(doc))
		if err != nil {
			return nil, classifyMongo(err)
		}
		if res.MatchedCount == 0 {
			return nil, Unknown(fmt.Errorf("%s %s changed during apply", m.EntityType, m.TargetID))
		}
		return doc, nil

	case domain.MutationDelete:
		if _, err := coll.DeleteOne(ctx, bson.M{"_id": m.TargetID}); err != nil {
			return nil, classifyMongo(err)
		}
		return nil, nil
	}
	return nil, Rejectedf("unsupported mutation kind %q", m.Kind)
}

func (s *MongoStore) findOne(ctx context.Context, coll *mongo.Collection, filter bson.M) (domain.Document, error) {
	raw, err := coll.FindOne(ctx, filter).Raw()
	if err != nil {
		return nil, err
	}
	return fromBSON(raw)
}

func (s *MongoStore) FetchAll(ctx context.Context, entityType domain.EntityType) ([]domain.Document, error) {
	cursor, err := s.collection(entityType).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classifyMongo(err)
	}
	defer cursor.Close(ctx)

	var out []domain.Document
	for cursor.Next(ctx) {
		doc, err := fromBSON(cursor.Current)
		if err != nil {
			return nil, Unknown(err)
		}
		out = append(out, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, classifyMongo(err)
	}
	return out, nil
}

type changeEvent struct {
	OperationType string   `bson:"operationType"`
	FullDocument  bson.Raw `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

func (s *MongoStore) Subscribe(ctx context.Context, entityType domain.EntityType, fn func(Change)) (func(), error) {
	stream, err := s.collection(entityType).Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, classifyMongo(err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer stream.Close(context.Background())
		for stream.Next(watchCtx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				s.logger.Warn("invalid change event", zap.Error(err))
				continue
			}
			switch ev.OperationType {
			case "insert", "update", "replace":
				doc, err := fromBSON(ev.FullDocument)
				if err != nil || doc == nil {
					continue
				}
				fn(Change{Type: ChangeUpsert, EntityType: entityType, ID: doc.ID(), Document: doc})
			case "delete":
				fn(Change{Type: ChangeDelete, EntityType: entityType, ID: ev.DocumentKey.ID})
			}
		}
		if err := stream.Err(); err != nil && watchCtx.Err() == nil {
			s.logger.Warn("change stream ended", zap.String("entity_type", string(entityType)), zap.Error(err))
		}
	}()

	return cancel, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op; the client belongs to the caller.
func (s *MongoStore) Close() error { return nil }

func toBSON(doc domain.Document) bson.M {
	out := bson.M{}
	for k, v := range doc {
		out[k] = v
	}
	out["_id"] = doc.ID()
	return out
}

// fromBSON goes through relaxed extended JSON so nested values come back
// as the plain maps and slices the patch code expects.
func fromBSON(raw bson.Raw) (domain.Document, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	delete(doc, "_id")
	return doc, nil
}

func classifyMongo(err error) error {
	switch {
	case mongo.IsNetworkError(err):
		return Unreachable(err)
	case mongo.IsTimeout(err):
		return Unknown(err)
	case mongo.IsDuplicateKeyError(err):
		return Rejected(err)
	}
	// 121: document failed collection validation.
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorCode(121) {
		return Rejected(err)
	}
	return normalize(err)
}
