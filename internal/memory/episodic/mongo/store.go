// Package mongo wires the episodic.Store contract to MongoDB, grounded on
// the teacher's features/memory/mongo client/store split: a thin Store that
// delegates to a narrow Client interface, wrapping the real driver behind an
// interface so tests can substitute a fake without a live database.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/memory"
)

const (
	defaultCollection = "episodic_records"
	defaultTimeout    = 5 * time.Second
)

// Client exposes the Mongo operations the episodic store needs, narrow
// enough to fake in tests without a live server.
type Client interface {
	Ping(ctx context.Context) error
	Append(ctx context.Context, doc recordDocument) error
	Query(ctx context.Context, userID, caseID string, since int64, limit int) ([]recordDocument, error)
}

// Options configures the Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements episodic.Store against MongoDB.
type Store struct {
	client Client
}

// NewStore builds a Store from an already-constructed Client, for tests.
func NewStore(c Client) (*Store, error) {
	if c == nil {
		return nil, errors.New("mongo episodic store: client is required")
	}
	return &Store{client: c}, nil
}

// NewStoreFromOptions connects to MongoDB and returns a Store. It ensures
// the supporting index exists before returning.
func NewStoreFromOptions(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo episodic store: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo episodic store: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "case_id", Value: 1}, {Key: "created_at", Value: 1}},
	}
	if _, err := coll.Indexes().CreateOne(ictx, index); err != nil {
		return nil, err
	}

	return NewStore(&driverClient{mongo: opts.Client, coll: coll, timeout: timeout})
}

func (s *Store) Append(ctx context.Context, r memory.Record) error {
	if r.Type != memory.Episodic {
		return apperr.New(apperr.InvalidState, "mongo episodic store: record type must be episodic")
	}
	if r.Embedding != nil {
		return apperr.New(apperr.InvalidState, "mongo episodic store: episodic records must not carry an embedding")
	}
	if err := s.client.Append(ctx, toDocument(r)); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "mongo episodic store: append failed", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter memory.Filter, since int64, limit int) ([]memory.Record, error) {
	docs, err := s.client.Query(ctx, filter.UserID, filter.CaseID, since, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "mongo episodic store: query failed", err)
	}
	out := make([]memory.Record, 0, len(docs))
	for _, d := range docs {
		r := fromDocument(d)
		if len(filter.Tags) > 0 && !hasAnyTag(r.Tags, filter.Tags) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

type recordDocument struct {
	ID        string         `bson:"_id"`
	UserID    string         `bson:"user_id"`
	CaseID    string         `bson:"case_id,omitempty"`
	Text      string         `bson:"text"`
	Tags      []string       `bson:"tags,omitempty"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
}

func toDocument(r memory.Record) recordDocument {
	return recordDocument{
		ID:        r.ID,
		UserID:    r.UserID,
		CaseID:    r.CaseID,
		Text:      r.Text,
		Tags:      r.Tags,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
	}
}

func fromDocument(d recordDocument) memory.Record {
	return memory.Record{
		ID:        d.ID,
		UserID:    d.UserID,
		CaseID:    d.CaseID,
		Type:      memory.Episodic,
		Text:      d.Text,
		Tags:      d.Tags,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
	}
}

type driverClient struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

func (c *driverClient) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *driverClient) Append(ctx context.Context, doc recordDocument) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c *driverClient) Query(ctx context.Context, userID, caseID string, since int64, limit int) ([]recordDocument, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"user_id": userID}
	if caseID != "" {
		filter["case_id"] = caseID
	}
	if since != 0 {
		filter["created_at"] = bson.M{"$gte": time.Unix(0, since)}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []recordDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *driverClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
