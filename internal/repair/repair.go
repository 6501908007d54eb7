// Package repair applies targeted fixes to every backend at once, so data
// removed from one store does not come back through a later migration.
package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/store"
	"github.com/samber/lo"
)

// Outcome is the result of a removal on one backend.
type Outcome struct {
	Backend string `json:"backend"`
	Found   int    `json:"found"`
	Removed int    `json:"removed"`
	Err     error  `json:"-"`
}

// Status summarizes the outcome as removed, not_found or error.
func (o Outcome) Status() string {
	switch {
	case o.Err != nil:
		return "error"
	case o.Found == 0:
		return "not_found"
	default:
		return "removed"
	}
}

// Report collects the outcome of every backend.
type Report struct {
	Username string    `json:"username"`
	Outcomes []Outcome `json:"outcomes"`
}

// Removed returns the number of records removed across all backends.
func (r *Report) Removed() int {
	return lo.SumBy(r.Outcomes, func(o Outcome) int { return o.Removed })
}

// Failed returns the outcomes that ended in an error.
func (r *Report) Failed() []Outcome {
	return lo.Filter(r.Outcomes, func(o Outcome, _ int) bool { return o.Err != nil })
}

// Error is returned when at least one backend failed. The other backends
// were still processed and their outcomes are in Report.
type Error struct {
	Report *Report
}

func (e *Error) Error() string {
	parts := lo.Map(e.Report.Failed(), func(o Outcome, _ int) string {
		return fmt.Sprintf("%s: %v", o.Backend, o.Err)
	})
	return fmt.Sprintf("remove user %q: %s", e.Report.Username, strings.Join(parts, "; "))
}

func (e *Error) Unwrap() []error {
	return lo.Map(e.Report.Failed(), func(o Outcome, _ int) error { return o.Err })
}

// RemoveUser deletes every user record holding username from each backend.
// A backend without such a user reports not_found. A failing backend does not
// stop the others.
func RemoveUser(ctx context.Context, username string, backends ...store.Backend) (*Report, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.New("username is required")
	}
	if len(backends) == 0 {
		return nil, errors.New("no backends to repair")
	}

	logger := log.Default().WithPrefix("repair")
	report := &Report{Username: username}

	for _, b := range backends {
		o := removeFrom(ctx, b, username)
		report.Outcomes = append(report.Outcomes, o)

		switch o.Status() {
		case "error":
			logger.Error("failed to remove user", "backend", o.Backend, "username", username, "removed", o.Removed, "error", o.Err)
		case "not_found":
			logger.Info("user not found", "backend", o.Backend, "username", username)
		default:
			logger.Info("removed user", "backend", o.Backend, "username", username, "records", o.Removed)
		}
	}

	if len(report.Failed()) > 0 {
		return report, &Error{Report: report}
	}
	return report, nil
}

func removeFrom(ctx context.Context, b store.Backend, username string) Outcome {
	o := Outcome{Backend: b.Name()}

	matches, err := findByUsername(ctx, b.Users(), username)
	if err != nil {
		o.Err = err
		return o
	}

	o.Found = len(matches)
	for _, u := range matches {
		n, err := b.Users().DeleteByKey(ctx, u.ID)
		if err != nil {
			o.Err = err
			return o
		}
		o.Removed += n
	}
	return o
}

// findByUsername uses the collection's own lookup when it has one and falls
// back to filtering the full list.
func findByUsername(ctx context.Context, users store.Collection[store.User], username string) ([]store.User, error) {
	if finder, ok := users.(store.UsernameFinder); ok {
		return finder.FindByUsername(ctx, username)
	}
	all, err := users.List(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(u store.User, _ int) bool { return u.Username == username }), nil
}
