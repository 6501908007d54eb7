package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ccoveille/go-safecast"
	"github.com/flexquest/flexquest/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func byID(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

func toInt(n int64) (int, error) {
	v, err := safecast.ToInt(n)
	if err != nil {
		return 0, fmt.Errorf("count %d: %w", n, err)
	}
	return v, nil
}

// committedBefore returns how many documents of an ordered insert reached the
// server before err.
func committedBefore(res *mongo.InsertManyResult, err error) int {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		return bwe.WriteErrors[0].Index
	}
	if res != nil {
		return len(res.InsertedIDs)
	}
	return 0
}

type userCollection struct {
	b *Backend
}

var _ store.UsernameFinder = (*userCollection)(nil)

func (c *userCollection) coll(ctx context.Context) (*mongo.Collection, error) {
	return c.b.collection(ctx, store.KindUsers)
}

func (c *userCollection) Get(ctx context.Context, key string) (*store.User, error) {
	coll, err := c.coll(ctx)
	if err != nil {
		return nil, store.Wrap(Name, "get", store.KindUsers, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	raw, err := coll.FindOne(ctx, byID(key)).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap(Name, "get", store.KindUsers, classify(err))
	}
	u, err := decodeUser(raw)
	if err != nil {
		return nil, store.Wrap(Name, "get", store.KindUsers, err)
	}
	return &u, nil
}

func (c *userCollection) List(ctx context.Context) ([]store.User, error) {
	coll, err := c.coll(ctx)
	if err != nil {
		return nil, store.Wrap(Name, "list", store.KindUsers, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	cur, err := coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}}))
	if err != nil {
		return nil, store.Wrap(Name, "list", store.KindUsers, classify(err))
	}
	defer cur.Close(ctx) //nolint:errcheck

	users := []store.User{}
	for cur.Next(ctx) {
		u, err := decodeUser(cur.Current)
		if err != nil {
			return nil, store.Wrap(Name, "list", store.KindUsers, err)
		}
		users = append(users, u)
	}
	if err := cur.Err(); err != nil {
		return nil, store.Wrap(Name, "list", store.KindUsers, classify(err))
	}
	if err := store.CheckUsers(users); err != nil {
		return nil, store.Wrap(Name, "list", store.KindUsers, err)
	}
	return users, nil
}

// FindByUsername returns the users holding username. Only matching documents
// are read, so corrupt records elsewhere do not fail the lookup.
func (c *userCollection) FindByUsername(ctx context.Context, username string) ([]store.User, error) {
	coll, err := c.coll(ctx)
	if err != nil {
		return nil, store.Wrap(Name, "find", store.KindUsers, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	cur, err := coll.Find(ctx, bson.D{{Key: "username", Value: username}})
	if err != nil {
		return nil, store.Wrap(Name, "find", store.KindUsers, classify(err))
	}
	defer cur.Close(ctx) //nolint:errcheck

	users := []store.User{}
	for cur.Next(ctx) {
		u, err := decodeUser(cur.Current)
		if err != nil {
			return nil, store.Wrap(Name, "find", store.KindUsers, err)
		}
		users = append(users, u)
	}
	if err := cur.Err(); err != nil {
		return nil, store.Wrap(Name, "find", store.KindUsers, classify(err))
	}
	return users, nil
}

// Put replaces the user document by id. The unique username index rejects
// a username held by another id.
func (c *userCollection) Put(ctx context.Context, rec store.User) error {
	if err := store.Validate(rec); err != nil {
		return store.Wrap(Name, "put", store.KindUsers, err)
	}
	coll, err := c.coll(ctx)
	if err != nil {
		return store.Wrap(Name, "put", store.KindUsers, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	if _, err := coll.ReplaceOne(ctx, byID(rec.ID), rec, options.Replace().SetUpsert(true)); err != nil {
		return store.Wrap(Name, "put", store.KindUsers, classify(err))
	}
	return nil
}

func (c *userCollection) DeleteByKey(ctx context.Context, key string) (int, error) {
	coll, err := c.coll(ctx)
	if err != nil {
		return 0, store.Wrap(Name, "delete", store.KindUsers, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	res, err := coll.DeleteOne(ctx, byID(key))
	if err != nil {
		return 0, store.Wrap(Name, "delete", store.KindUsers, classify(err))
	}
	n, err := toInt(res.DeletedCount)
	return n, store.Wrap(Name, "delete", store.KindUsers, err)
}

func (c *userCollection) Count(ctx context.Context) (int, error) {
	coll, err := c.coll(ctx)
	if err != nil {
		return 0, store.Wrap(Name, "count", store.KindUsers, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	n, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, store.Wrap(Name, "count", store.KindUsers, classify(err))
	}
	count, err := toInt(n)
	return count, store.Wrap(Name, "count", store.KindUsers, err)
}

// ReplaceAll empties the collection and inserts recs with one ordered
// insert. The remote store has no cross-document atomicity here, so a
// failure leaves the records before the failing one committed.
func (c *userCollection) ReplaceAll(ctx context.Context, recs []store.User) (int, error) {
	if err := store.CheckUsers(recs); err != nil {
		return 0, store.Wrap(Name, "replace", store.KindUsers, fmt.Errorf("%v: %w", err, store.ErrInvalidRecord))
	}
	coll, err := c.coll(ctx)
	if err != nil {
		return 0, store.Wrap(Name, "replace", store.KindUsers, err)
	}

	delCtx, cancel := c.b.opContext(ctx)
	defer cancel()
	if _, err := coll.DeleteMany(delCtx, bson.D{}); err != nil {
		return 0, store.Wrap(Name, "replace", store.KindUsers, classify(err))
	}
	// the index may be missing if duplicates blocked it at connect
	if err := c.b.ensureUsernameIndex(ctx, coll.Indexes()); err != nil {
		return 0, store.Wrap(Name, "replace", store.KindUsers, err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	insCtx, cancel := c.b.opContext(ctx)
	defer cancel()
	res, err := coll.InsertMany(insCtx, recs, options.InsertMany().SetOrdered(true))
	if err != nil {
		return committedBefore(res, err), store.Wrap(Name, "replace", store.KindUsers, classify(err))
	}
	return len(res.InsertedIDs), nil
}

type adminCollection struct {
	b *Backend
}

func (c *adminCollection) coll(ctx context.Context) (*mongo.Collection, error) {
	return c.b.collection(ctx, store.KindAdmin)
}

func (c *adminCollection) Get(ctx context.Context, key string) (*store.AdminSettings, error) {
	if key != store.AdminKey {
		return nil, nil
	}
	coll, err := c.coll(ctx)
	if err != nil {
		return nil, store.Wrap(Name, "get", store.KindAdmin, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	raw, err := coll.FindOne(ctx, byID(store.AdminKey)).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap(Name, "get", store.KindAdmin, classify(err))
	}
	a, err := decodeAdmin(raw)
	if err != nil {
		return nil, store.Wrap(Name, "get", store.KindAdmin, err)
	}
	return &a, nil
}

// List returns the singleton, if any. Any other document in the admin
// collection makes the collection corrupt.
func (c *adminCollection) List(ctx context.Context) ([]store.AdminSettings, error) {
	coll, err := c.coll(ctx)
	if err != nil {
		return nil, store.Wrap(Name, "list", store.KindAdmin, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	cur, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, store.Wrap(Name, "list", store.KindAdmin, classify(err))
	}
	defer cur.Close(ctx) //nolint:errcheck

	all := []store.AdminSettings{}
	for cur.Next(ctx) {
		a, err := decodeAdmin(cur.Current)
		if err != nil {
			return nil, store.Wrap(Name, "list", store.KindAdmin, err)
		}
		all = append(all, a)
	}
	if err := cur.Err(); err != nil {
		return nil, store.Wrap(Name, "list", store.KindAdmin, classify(err))
	}
	return all, nil
}

// Put upserts the singleton without touching migratedAt.
func (c *adminCollection) Put(ctx context.Context, rec store.AdminSettings) error {
	coll, err := c.coll(ctx)
	if err != nil {
		return store.Wrap(Name, "put", store.KindAdmin, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	rec = rec.Normalize()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "lastUpdated", Value: rec.LastUpdated},
		{Key: "lastLoginAt", Value: rec.LastLoginAt},
		{Key: "globalMuscleBoostEnabled", Value: rec.GlobalMuscleBoostEnabled},
	}}}
	if _, err := coll.UpdateOne(ctx, byID(store.AdminKey), update, options.UpdateOne().SetUpsert(true)); err != nil {
		return store.Wrap(Name, "put", store.KindAdmin, classify(err))
	}
	return nil
}

func (c *adminCollection) DeleteByKey(ctx context.Context, key string) (int, error) {
	if key != store.AdminKey {
		return 0, nil
	}
	coll, err := c.coll(ctx)
	if err != nil {
		return 0, store.Wrap(Name, "delete", store.KindAdmin, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	res, err := coll.DeleteOne(ctx, byID(store.AdminKey))
	if err != nil {
		return 0, store.Wrap(Name, "delete", store.KindAdmin, classify(err))
	}
	n, err := toInt(res.DeletedCount)
	return n, store.Wrap(Name, "delete", store.KindAdmin, err)
}

func (c *adminCollection) Count(ctx context.Context) (int, error) {
	coll, err := c.coll(ctx)
	if err != nil {
		return 0, store.Wrap(Name, "count", store.KindAdmin, err)
	}
	ctx, cancel := c.b.opContext(ctx)
	defer cancel()

	n, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, store.Wrap(Name, "count", store.KindAdmin, classify(err))
	}
	count, err := toInt(n)
	return count, store.Wrap(Name, "count", store.KindAdmin, err)
}

// ReplaceAll makes recs (zero or one record) the whole admin collection,
// migratedAt included.
func (c *adminCollection) ReplaceAll(ctx context.Context, recs []store.AdminSettings) (int, error) {
	if len(recs) > 1 {
		return 0, store.Wrap(Name, "replace", store.KindAdmin, fmt.Errorf("%d admin records: %w", len(recs), store.ErrInvalidRecord))
	}
	coll, err := c.coll(ctx)
	if err != nil {
		return 0, store.Wrap(Name, "replace", store.KindAdmin, err)
	}

	delCtx, cancel := c.b.opContext(ctx)
	defer cancel()
	if _, err := coll.DeleteMany(delCtx, bson.D{}); err != nil {
		return 0, store.Wrap(Name, "replace", store.KindAdmin, classify(err))
	}
	if len(recs) == 0 {
		return 0, nil
	}

	insCtx, cancel := c.b.opContext(ctx)
	defer cancel()
	doc := adminDoc{ID: store.AdminKey, AdminSettings: recs[0].Normalize()}
	if _, err := coll.InsertOne(insCtx, doc); err != nil {
		return 0, store.Wrap(Name, "replace", store.KindAdmin, classify(err))
	}
	return 1, nil
}
