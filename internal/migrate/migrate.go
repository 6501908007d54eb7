// Package migrate copies whole entity collections from one backend into
// another, replacing the destination content.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/store"
	"github.com/samber/lo"
)

// Status is the state of one kind within a run.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// KindResult reports the effect of a run on one entity kind.
type KindResult struct {
	Kind      store.Kind `json:"kind"`
	Status    Status     `json:"status"`
	Read      int        `json:"read"`
	Committed int        `json:"committed"`
	Pending   int        `json:"pending"`
	Error     string     `json:"error,omitempty"`
}

// Report is the outcome of a migration run. It is returned on failure too,
// so the operator can see what was already committed.
type Report struct {
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  time.Time    `json:"finishedAt"`
	MigratedAt  time.Time    `json:"migratedAt"`
	Kinds       []KindResult `json:"kinds"`
}

// Committed returns the total number of committed records.
func (r *Report) Committed() int {
	return lo.SumBy(r.Kinds, func(k KindResult) int { return k.Committed })
}

// Error is returned when a run aborts. Report holds the partial effect.
type Error struct {
	Report *Report
	Kind   store.Kind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("migrate %s from %s to %s: %v", e.Kind, e.Report.Source, e.Report.Destination, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ParseKinds parses kind names. An empty list means every kind.
func ParseKinds(names []string) ([]store.Kind, error) {
	if len(names) == 0 {
		return slices.Clone(store.Kinds), nil
	}
	kinds := make([]store.Kind, 0, len(names))
	for _, n := range names {
		k := store.Kind(strings.ToLower(strings.TrimSpace(n)))
		if !slices.Contains(store.Kinds, k) {
			return nil, fmt.Errorf("unknown kind %q, expected one of %v", n, store.Kinds)
		}
		kinds = append(kinds, k)
	}
	return lo.Uniq(kinds), nil
}

// Run overwrites the destination collections with the source collections,
// kind by kind. The source is read and checked in full before anything in
// the destination is deleted. The first failure aborts the run; kinds already
// done stay done and the rest are reported as pending.
func Run(ctx context.Context, src, dst store.Backend, kinds ...store.Kind) (*Report, error) {
	if src.Name() == dst.Name() {
		return nil, fmt.Errorf("source and destination are both %q", src.Name())
	}
	if len(kinds) == 0 {
		kinds = store.Kinds
	}
	kinds = lo.Uniq(kinds)

	logger := log.Default().WithPrefix("migrate")
	now := time.Now().UTC().Truncate(time.Millisecond)
	report := &Report{
		Source:      src.Name(),
		Destination: dst.Name(),
		StartedAt:   now,
		MigratedAt:  now,
		Kinds: lo.Map(kinds, func(k store.Kind, _ int) KindResult {
			return KindResult{Kind: k, Status: StatusPending}
		}),
	}

	for i, kind := range kinds {
		res := &report.Kinds[i]
		logger.Info("migrating", "kind", kind, "from", src.Name(), "to", dst.Name())

		var err error
		switch kind {
		case store.KindUsers:
			err = copyKind(ctx, src.Users(), dst.Users(), dst, res, checkUsers)
		case store.KindAdmin:
			err = copyKind(ctx, src.Admin(), dst.Admin(), dst, res, stampAdmin(now))
		default:
			err = fmt.Errorf("unknown kind %q", kind)
		}

		if err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			report.FinishedAt = time.Now().UTC()
			logger.Error("migration aborted", "kind", kind, "committed", res.Committed, "pending", res.Pending, "error", err)
			return report, &Error{Report: report, Kind: kind, Err: err}
		}

		res.Status = StatusDone
		logger.Info("migrated", "kind", kind, "records", res.Committed)
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// copyKind reads the whole source collection, prepares it and replaces the
// destination collection with it.
func copyKind[T store.Record](
	ctx context.Context,
	src, dst store.BulkCollection[T],
	dstBackend store.Backend,
	res *KindResult,
	prepare func([]T) ([]T, error),
) error {
	recs, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	res.Read = len(recs)
	res.Pending = len(recs)

	recs, err = prepare(recs)
	if err != nil {
		return fmt.Errorf("check source: %w", err)
	}

	// Fail before the destination delete when it cannot be reached at all.
	if err := dstBackend.Ping(ctx); err != nil {
		return fmt.Errorf("reach destination: %w", err)
	}

	n, err := dst.ReplaceAll(ctx, recs)
	res.Committed = n
	res.Pending = len(recs) - n
	if err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return nil
}

func checkUsers(users []store.User) ([]store.User, error) {
	if err := store.CheckUsers(users); err != nil {
		return nil, err
	}
	return users, nil
}

func stampAdmin(now time.Time) func([]store.AdminSettings) ([]store.AdminSettings, error) {
	return func(recs []store.AdminSettings) ([]store.AdminSettings, error) {
		if len(recs) > 1 {
			return nil, fmt.Errorf("%d admin records: %w", len(recs), store.ErrCorrupt)
		}
		return lo.Map(recs, func(a store.AdminSettings, _ int) store.AdminSettings {
			a.MigratedAt = &now
			return a
		}), nil
	}
}

// IsPartial reports whether err is a migration error that left records
// committed in the destination.
func IsPartial(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Report.Committed() > 0
}
