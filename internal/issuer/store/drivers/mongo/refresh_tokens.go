// Package mongo stores refresh tokens in a MongoDB collection with a unique
// index on the token fingerprint.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
)

const (
	RefreshTokensCollection = "refresh_tokens"

	// DefaultRetention keeps expired documents around for the TTL monitor
	// when housekeeping is not running.
	DefaultRetention = 24 * time.Hour
)

// RefreshTokens implements store.RefreshTokens.
type RefreshTokens struct {
	client *mongo.Client // nil when built from a caller-owned collection
	coll   *mongo.Collection
}

// Connect dials uri, pings the primary and ensures indexes on
// database.refresh_tokens.
func Connect(ctx context.Context, uri, database string) (*RefreshTokens, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo refresh store: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo refresh store: ping: %w", err)
	}

	r, err := New(ctx, client.Database(database).Collection(RefreshTokensCollection), DefaultRetention)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	r.client = client
	return r, nil
}

// New wraps coll and creates its indexes. Documents are removed by the
// server once retention has passed since their expiry.
func New(ctx context.Context, coll *mongo.Collection, retention time.Duration) (*RefreshTokens, error) {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "subject", Value: 1}, {Key: "client_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo refresh store: indexes: %w", err)
	}
	return &RefreshTokens{coll: coll}, nil
}

func (r *RefreshTokens) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(context.Background())
}

func (r *RefreshTokens) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, readpref.Primary())
}

type document struct {
	ID          string    `bson:"_id"`
	TokenHash   string    `bson:"token_hash"`
	Subject     string    `bson:"subject"`
	Authorities []string  `bson:"authorities"`
	ClientID    string    `bson:"client_id"`
	SessionID   string    `bson:"session_id"`
	Scopes      []string  `bson:"scopes"`
	ExpiresAt   time.Time `bson:"expires_at"`
	Revoked     bool      `bson:"revoked"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (r *RefreshTokens) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.coll.InsertOne(ctx, document{
		ID: t.ID, TokenHash: t.TokenHash, Subject: t.Subject, Authorities: t.Authorities,
		ClientID: t.ClientID, SessionID: t.SessionID, Scopes: t.Scopes, ExpiresAt: t.ExpiresAt,
		Revoked: t.Revoked, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *RefreshTokens) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var d document
	err := r.coll.FindOne(ctx, bson.M{"token_hash": hash}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.RefreshToken{}, store.ErrNotFound
	}
	if err != nil {
		return domain.RefreshToken{}, err
	}
	return domain.RefreshToken{
		ID: d.ID, TokenHash: d.TokenHash, Subject: d.Subject, Authorities: d.Authorities,
		ClientID: d.ClientID, SessionID: d.SessionID, Scopes: d.Scopes, ExpiresAt: d.ExpiresAt.UTC(),
		Revoked: d.Revoked, CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func (r *RefreshTokens) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"token_hash": hash},
		bson.M{"$set": bson.M{"revoked": true, "updated_at": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *RefreshTokens) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"token_hash": hash, "revoked": false, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"revoked": true, "updated_at": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"token_hash": hash})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrConsumed
}

func (r *RefreshTokens) RevokeRefreshTokens(ctx context.Context, subject, clientID string, now time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"subject": subject, "client_id": clientID, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "updated_at": now}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *RefreshTokens) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
