package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a record against the field constraints of its kind.
func Validate[T Record](rec T) error {
	if err := validate.Struct(rec); err != nil {
		return fmt.Errorf("%s: %w", err, ErrInvalidRecord)
	}
	return nil
}

// CheckUsers verifies a decoded user set: every record valid, ids and
// usernames unique. Any violation is reported as ErrCorrupt.
func CheckUsers(users []User) error {
	for i, u := range users {
		if err := Validate(u); err != nil {
			return fmt.Errorf("user at index %d: %v: %w", i, err, ErrCorrupt)
		}
	}
	if dup := lo.FindDuplicatesBy(users, func(u User) string { return u.ID }); len(dup) > 0 {
		return fmt.Errorf("duplicate user id %q: %w", dup[0].ID, ErrCorrupt)
	}
	if dup := lo.FindDuplicatesBy(users, func(u User) string { return u.Username }); len(dup) > 0 {
		return fmt.Errorf("duplicate username %q: %w", dup[0].Username, ErrCorrupt)
	}
	return nil
}

// UsernameTaken reports whether a user other than rec already holds rec's username.
func UsernameTaken(users []User, rec User) bool {
	return lo.ContainsBy(users, func(u User) bool {
		return u.Username == rec.Username && u.ID != rec.ID
	})
}

// Upsert replaces the user with rec's id in place or appends rec.
func Upsert(users []User, rec User) []User {
	_, idx, ok := lo.FindIndexOf(users, func(u User) bool { return u.ID == rec.ID })
	if ok {
		users[idx] = rec
		return users
	}
	return append(users, rec)
}
