// Package docstore implements the record store on a MongoDB database with
// one collection per entity kind.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"golang.org/x/sync/singleflight"
)

// Name identifies this backend in logs and errors.
const Name = "remote"

// Backend is the document store backend. The connection is established on
// first use and shared by all callers until Close.
type Backend struct {
	opts   Options
	logger *log.Logger

	mu     sync.RWMutex
	client *mongo.Client
	db     *mongo.Database
	dial   singleflight.Group

	users *userCollection
	admin *adminCollection
}

var _ store.Backend = (*Backend)(nil)

// New validates opts and returns a backend. It does not connect.
func New(opts Options) (*Backend, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("docstore: endpoint is required")
	}
	if opts.Database == "" {
		return nil, errors.New("docstore: database is required")
	}

	b := &Backend{
		opts:   opts.withDefaults(),
		logger: log.Default().WithPrefix("docstore"),
	}
	b.users = &userCollection{b: b}
	b.admin = &adminCollection{b: b}

	if b.opts.TLSEnabled() && b.opts.AllowInvalidCertificates {
		b.logger.Warn("certificate validation is disabled, do not use this outside diagnostics", "endpoint", Redact(opts.Endpoint))
	}
	return b, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Users() store.BulkCollection[store.User] { return b.users }

func (b *Backend) Admin() store.BulkCollection[store.AdminSettings] { return b.admin }

// Options returns the effective options.
func (b *Backend) Options() Options { return b.opts }

// Ping connects if needed and round-trips a ping to the primary.
func (b *Backend) Ping(ctx context.Context) error {
	db, err := b.database(ctx)
	if err != nil {
		return store.Wrap(Name, "ping", "", err)
	}
	ctx, cancel := b.opContext(ctx)
	defer cancel()
	if err := db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return store.Wrap(Name, "ping", "", classifyConnect(err))
	}
	return nil
}

// Close releases the connection. The backend reconnects on the next call.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	err := b.client.Disconnect(ctx)
	b.client = nil
	b.db = nil
	if err != nil {
		return store.Wrap(Name, "close", "", err)
	}
	return nil
}

func (b *Backend) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.opts.OperationTimeout)
}

// database returns the connected database, dialing once for all concurrent
// first callers. A failed dial is not remembered, the next call dials again.
func (b *Backend) database(ctx context.Context) (*mongo.Database, error) {
	b.mu.RLock()
	db := b.db
	b.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := b.dial.Do("connect", func() (any, error) {
		b.mu.RLock()
		db := b.db
		b.mu.RUnlock()
		if db != nil {
			return db, nil
		}

		client, err := b.connect(ctx)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.client = client
		b.db = client.Database(b.opts.Database)
		db = b.db
		b.mu.Unlock()
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mongo.Database), nil
}

func (b *Backend) connect(ctx context.Context) (*mongo.Client, error) {
	endpoint := Redact(b.opts.Endpoint)
	b.logger.Debug("connecting", "endpoint", endpoint, "database", b.opts.Database, "tls", b.opts.TLSEnabled())

	client, err := mongo.Connect(b.opts.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, classifyConnect(err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		b.disconnect(client)
		return nil, fmt.Errorf("connect %s: %w", endpoint, classifyConnect(err))
	}

	users := client.Database(b.opts.Database).Collection(string(store.KindUsers))
	if err := b.indexesAtConnect(ctx, users.Indexes()); err != nil {
		b.disconnect(client)
		return nil, err
	}

	b.logger.Info("connected", "endpoint", endpoint, "database", b.opts.Database)
	return client, nil
}

func (b *Backend) disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.OperationTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		b.logger.Debug("failed to disconnect", "error", err)
	}
}

type indexCreator interface {
	CreateOne(ctx context.Context, model mongo.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

// ensureUsernameIndex enforces username uniqueness on the server. Creating
// the index fails with ErrCorrupt when the collection already holds
// duplicates.
func (b *Backend) ensureUsernameIndex(ctx context.Context, indexes indexCreator) error {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	_, err := indexes.CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetName("username_unique").SetUnique(true),
	})
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("create username index: %v: %w", err, store.ErrCorrupt)
	}
	return fmt.Errorf("create username index: %w", classify(err))
}

// indexesAtConnect keeps the connection when existing duplicates block the
// index. Reads still report them as corrupt and a full replace rebuilds the
// index on the emptied collection.
func (b *Backend) indexesAtConnect(ctx context.Context, indexes indexCreator) error {
	err := b.ensureUsernameIndex(ctx, indexes)
	if errors.Is(err, store.ErrCorrupt) {
		b.logger.Warn("users collection holds duplicate usernames, unique index not created", "error", err)
		return nil
	}
	return err
}

// collection resolves the collection for kind, connecting if needed.
func (b *Backend) collection(ctx context.Context, kind store.Kind) (*mongo.Collection, error) {
	db, err := b.database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(string(kind)), nil
}
