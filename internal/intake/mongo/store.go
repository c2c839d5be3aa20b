// Package mongo wires intake.Store to MongoDB, grounded on
// internal/memory/episodic/mongo's client/store split: a thin Store
// delegating to a narrow Client interface so tests can substitute a fake
// without a live database.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lawercase/petition-orchestrator/internal/intake"
)

const (
	defaultCollection = "intake_progress"
	defaultTimeout     = 5 * time.Second
)

// Client exposes the Mongo operations the intake store needs.
type Client interface {
	FindOne(ctx context.Context, userID, caseID string) (progressDocument, bool, error)
	Upsert(ctx context.Context, doc progressDocument) error
}

// Options configures the Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements intake.Store against MongoDB, keyed by (user_id, case_id)
// per the data model's IntakeProgress row key.
type Store struct {
	client Client
}

// NewStore builds a Store from an already-constructed Client, for tests.
func NewStore(c Client) (*Store, error) {
	if c == nil {
		return nil, errors.New("mongo intake store: client is required")
	}
	return &Store{client: c}, nil
}

// NewStoreFromOptions connects to MongoDB and returns a Store, ensuring
// the (user_id, case_id) uniqueness index exists.
func NewStoreFromOptions(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo intake store: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo intake store: database name is required")
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
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "case_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ictx, index); err != nil {
		return nil, err
	}

	return NewStore(&driverClient{coll: coll, timeout: timeout})
}

func (s *Store) Get(ctx context.Context, userID, caseID string) (intake.Progress, bool, error) {
	doc, ok, err := s.client.FindOne(ctx, userID, caseID)
	if err != nil || !ok {
		return intake.Progress{}, false, err
	}
	return fromDocument(doc), true, nil
}

func (s *Store) Save(ctx context.Context, p intake.Progress) error {
	return s.client.Upsert(ctx, toDocument(p))
}

type progressDocument struct {
	UserID          string            `bson:"user_id"`
	CaseID          string            `bson:"case_id"`
	Category        string            `bson:"category"`
	Status          string            `bson:"status"`
	CurrentBlock    string            `bson:"current_block"`
	CurrentStep     int               `bson:"current_step"`
	CompletedBlocks []string          `bson:"completed_blocks,omitempty"`
	Responses       map[string]string `bson:"responses,omitempty"`
	StartedAt       time.Time         `bson:"started_at"`
	UpdatedAt       time.Time         `bson:"updated_at"`
	CompletedAt     *time.Time        `bson:"completed_at,omitempty"`
}

func toDocument(p intake.Progress) progressDocument {
	return progressDocument{
		UserID:          p.UserID,
		CaseID:          p.CaseID,
		Category:        p.Category,
		Status:          string(p.Status),
		CurrentBlock:    p.CurrentBlock,
		CurrentStep:     p.CurrentStep,
		CompletedBlocks: p.CompletedBlocks,
		Responses:       p.Responses,
		StartedAt:       p.StartedAt,
		UpdatedAt:       p.UpdatedAt,
		CompletedAt:     p.CompletedAt,
	}
}

func fromDocument(d progressDocument) intake.Progress {
	return intake.Progress{
		UserID:          d.UserID,
		CaseID:          d.CaseID,
		Category:        d.Category,
		Status:          intake.Status(d.Status),
		CurrentBlock:    d.CurrentBlock,
		CurrentStep:     d.CurrentStep,
		CompletedBlocks: d.CompletedBlocks,
		Responses:       d.Responses,
		StartedAt:       d.StartedAt,
		UpdatedAt:       d.UpdatedAt,
		CompletedAt:     d.CompletedAt,
	}
}

type driverClient struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

func (c *driverClient) FindOne(ctx context.Context, userID, caseID string) (progressDocument, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc progressDocument
	err := c.coll.FindOne(ctx, bson.M{"user_id": userID, "case_id": caseID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return progressDocument{}, false, nil
	}
	if err != nil {
		return progressDocument{}, false, err
	}
	return doc, true, nil
}

func (c *driverClient) Upsert(ctx context.Context, doc progressDocument) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.coll.ReplaceOne(ctx,
		bson.M{"user_id": doc.UserID, "case_id": doc.CaseID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (c *driverClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
