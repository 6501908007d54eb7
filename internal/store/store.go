// Package store defines the records and the storage contract shared by the
// JSON file backend, the document store backend and the failover coordinator.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names an entity kind. The value doubles as the remote collection name.
type Kind string

const (
	KindUsers Kind = "users"
	KindAdmin Kind = "admin"
)

// Kinds lists every entity kind in migration order.
var Kinds = []Kind{KindUsers, KindAdmin}

// AdminKey is the fixed key of the AdminSettings singleton.
const AdminKey = "settings"

// User represents one registered account.
type User struct {
	ID           string  `json:"id" bson:"_id" validate:"required"`
	Username     string  `json:"username" bson:"username" validate:"required"`
	Name         string  `json:"name,omitempty" bson:"name,omitempty"`
	WeightKg     float64 `json:"weightKg" bson:"weightKg" validate:"gt=0"`
	HeightCm     float64 `json:"heightCm" bson:"heightCm" validate:"gt=0"`
	MusclesLevel int     `json:"musclesLevel" bson:"musclesLevel" validate:"min=1"`
	Coins        int     `json:"coins" bson:"coins" validate:"min=0"`
	AvatarURL    string  `json:"avatarUrl,omitempty" bson:"avatarUrl,omitempty"`
}

// Key returns the natural key of the user.
func (u User) Key() string { return u.ID }

// NewUserID returns a fresh user identifier.
func NewUserID() string {
	return uuid.NewString()
}

// AdminSettings is the singleton settings record.
// MigratedAt is only ever written by the migration tool.
type AdminSettings struct {
	LastUpdated              time.Time  `json:"lastUpdated" bson:"lastUpdated"`
	LastLoginAt              *time.Time `json:"lastLoginAt" bson:"lastLoginAt"`
	GlobalMuscleBoostEnabled bool       `json:"globalMuscleBoostEnabled" bson:"globalMuscleBoostEnabled"`
	MigratedAt               *time.Time `json:"migratedAt,omitempty" bson:"migratedAt,omitempty"`
}

// Key returns the singleton key.
func (AdminSettings) Key() string { return AdminKey }

// Normalize returns a copy with every timestamp in UTC at millisecond
// precision, which is what the document store can represent.
func (a AdminSettings) Normalize() AdminSettings {
	a.LastUpdated = normalizeTime(a.LastUpdated)
	a.LastLoginAt = normalizeTimePtr(a.LastLoginAt)
	a.MigratedAt = normalizeTimePtr(a.MigratedAt)
	return a
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := normalizeTime(*t)
	return &n
}

// Record is implemented by every entity kind.
type Record interface {
	User | AdminSettings
	Key() string
}

// Collection is the record store contract for a single entity kind.
//
// Get returns nil without an error when no record exists for the key.
// List returns records in persisted insertion order.
// Put inserts or replaces the record under its natural key.
// DeleteByKey returns the number of records removed (0 or 1).
type Collection[T Record] interface {
	Get(ctx context.Context, key string) (*T, error)
	List(ctx context.Context) ([]T, error)
	Put(ctx context.Context, rec T) error
	DeleteByKey(ctx context.Context, key string) (int, error)
	Count(ctx context.Context) (int, error)
}

// BulkCollection adds the whole-collection overwrite used by migrations.
type BulkCollection[T Record] interface {
	Collection[T]
	// ReplaceAll deletes every record and inserts recs in order. It returns
	// how many of recs were committed before an error, if any.
	ReplaceAll(ctx context.Context, recs []T) (int, error)
}

// UsernameFinder is implemented by user collections that can look records
// up by username without reading the whole collection.
type UsernameFinder interface {
	FindByUsername(ctx context.Context, username string) ([]User, error)
}

// Store is what application code talks to.
type Store interface {
	Users() Collection[User]
	Admin() Collection[AdminSettings]
}

// Backend is a concrete storage medium.
type Backend interface {
	Name() string
	Users() BulkCollection[User]
	Admin() BulkCollection[AdminSettings]
	// Ping verifies the medium can be reached.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
