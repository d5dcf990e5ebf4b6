package negotiationRepo

import (
	"context"
	"time"

	"haggle/database"
	"haggle/models"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type mongoNegotiationRepo struct {
	coll   *mongo.Collection
	cache  *redis.Client
	feed   *redis.Client
	logger *zap.Logger
}

// NewMongoNegotiationRepo returns a Repository backed by MongoDB for
// durability, with the change feed carried over Redis pub/sub and snapshots
// cached for cheap re-fetch.
func NewMongoNegotiationRepo(cache, feed *redis.Client, logger *zap.Logger) Repository {
	db := database.MongoClient.Database("haggle")
	return &mongoNegotiationRepo{
		coll:   db.Collection("negotiation_sessions"),
		cache:  cache,
		feed:   feed,
		logger: logger,
	}
}

func (r *mongoNegotiationRepo) Get(ctx context.Context, sessionID string) (*models.NegotiationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var session models.NegotiationSession
	err := r.coll.FindOne(ctx, bson.M{"id": sessionID}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *mongoNegotiationRepo) FindOpen(ctx context.Context, serviceID, clientID string) (*models.NegotiationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"serviceId": serviceID,
		"clientId":  clientID,
		"status":    bson.M{"$in": []models.NegotiationStatus{models.StatusPending, models.StatusCountered}},
	}
	var session models.NegotiationSession
	err := r.coll.FindOne(ctx, filter).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *mongoNegotiationRepo) ListByParticipant(ctx context.Context, participantID string) ([]models.NegotiationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"$or": []bson.M{
		{"providerId": participantID},
		{"clientId": participantID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []models.NegotiationSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *mongoNegotiationRepo) Create(ctx context.Context, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Version == 0 {
		session.Version = 1
	}

	if _, err := r.coll.InsertOne(ctx, session); err != nil {
		// The partial unique index on (serviceId, clientId) over open statuses
		// rejects a second open session for the same pair.
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateOpen
		}
		return nil, err
	}

	r.publish(session)
	return session, nil
}

func (r *mongoNegotiationRepo) ConditionalWrite(ctx context.Context, expectedVersion int64, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	next := session.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()

	// The version filter makes the replace a compare-and-swap: the whole
	// document (message log included) lands atomically or not at all.
	filter := bson.M{"id": next.ID, "version": expectedVersion}
	res, err := r.coll.ReplaceOne(ctx, filter, next)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		if n, countErr := r.coll.CountDocuments(ctx, bson.M{"id": next.ID}); countErr == nil && n == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrVersionConflict
	}

	r.publish(next)
	return next, nil
}
