// Package mongo hosts the MongoDB-backed HistoryStore implementation.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/agentrun/runtime/history"
)

const (
	defaultRunsCollection = "agent_runs"
	defaultOpTimeout      = 5 * time.Second
	runsClientName        = "history-mongo"
)

// Client exposes Mongo-backed operations for run history records.
type Client interface {
	health.Pinger

	Upsert(ctx context.Context, record history.Record) error
	Load(ctx context.Context, runID string) (history.Record, error)
	List(ctx context.Context, opts history.ListOptions) ([]history.Record, error)
	RunningRunIDs(ctx context.Context) ([]string, error)
}

// Options configures the Mongo history client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultRunsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(coll)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: wrapper, timeout: timeout}, nil
}

func (c *client) Name() string { return runsClientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Upsert(ctx context.Context, record history.Record) error {
	if record.RunID == "" {
		return errors.New("run id is required")
	}
	now := time.Now().UTC()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	record.UpdatedAt = now
	doc := fromRecord(record)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"run_id": record.RunID}
	update := bson.M{
		"$set": doc,
		"$setOnInsert": bson.M{
			"started_at": doc.StartedAt,
		},
	}
	_, err := c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) Load(ctx context.Context, runID string) (history.Record, error) {
	if runID == "" {
		return history.Record{}, errors.New("run id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := c.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return history.Record{}, history.ErrNotFound
		}
		return history.Record{}, err
	}
	return doc.toRecord(), nil
}

func (c *client) List(ctx context.Context, opts history.ListOptions) ([]history.Record, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	filter := bson.M{}
	if opts.AnomaliesOnly {
		filter["status"] = bson.M{"$in": []history.Status{history.StatusFailed, history.StatusInterrupted}}
	}
	sortField := "started_at"
	findOpts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	docs, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	out := make([]history.Record, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toRecord())
	}
	return out, nil
}

func (c *client) RunningRunIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	docs, err := c.coll.Find(ctx, bson.M{"status": history.StatusRunning}, options.Find())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.RunID)
	}
	return ids, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}
