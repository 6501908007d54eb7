package docstore

import (
	"fmt"

	"github.com/flexquest/flexquest/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	userFields = fieldSet("_id", "username", "name", "weightKg", "heightCm", "musclesLevel", "coins", "avatarUrl")

	adminFields = fieldSet("_id", "lastUpdated", "lastLoginAt", "globalMuscleBoostEnabled", "migratedAt")
)

func fieldSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// decodeStrict decodes raw into out and fails on any field outside allowed.
// The driver silently drops unknown fields, so they are checked up front.
func decodeStrict(raw bson.Raw, allowed map[string]struct{}, out any) error {
	elems, err := raw.Elements()
	if err != nil {
		return fmt.Errorf("%v: %w", err, store.ErrCorrupt)
	}
	for _, e := range elems {
		if _, ok := allowed[e.Key()]; !ok {
			return fmt.Errorf("unknown field %q: %w", e.Key(), store.ErrCorrupt)
		}
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%v: %w", err, store.ErrCorrupt)
	}
	return nil
}

func decodeUser(raw bson.Raw) (store.User, error) {
	var u store.User
	if err := decodeStrict(raw, userFields, &u); err != nil {
		return store.User{}, err
	}
	if err := store.Validate(u); err != nil {
		return store.User{}, fmt.Errorf("user %q: %v: %w", u.ID, err, store.ErrCorrupt)
	}
	return u, nil
}

// adminDoc is the stored shape of the singleton.
type adminDoc struct {
	ID                  string `bson:"_id"`
	store.AdminSettings `bson:",inline"`
}

func decodeAdmin(raw bson.Raw) (store.AdminSettings, error) {
	var d adminDoc
	if err := decodeStrict(raw, adminFields, &d); err != nil {
		return store.AdminSettings{}, err
	}
	if d.ID != store.AdminKey {
		return store.AdminSettings{}, fmt.Errorf("admin document %q: %w", d.ID, store.ErrCorrupt)
	}
	return d.AdminSettings.Normalize(), nil
}
