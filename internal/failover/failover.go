// Package failover routes record store calls to the configured backend and
// falls back to the local files when the remote store cannot be reached.
package failover

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/store"
)

// Mode selects the primary backend.
type Mode string

const (
	// ModeRemote serves from the document store and degrades to the local
	// files while the document store is unreachable.
	ModeRemote Mode = "remote"
	// ModeLocal serves from the local files only.
	ModeLocal Mode = "local"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRemote:
		return ModeRemote, nil
	case ModeLocal:
		return ModeLocal, nil
	default:
		return "", fmt.Errorf("unknown persistence mode %q", s)
	}
}

// Coordinator implements store.Store on top of a local and an optional
// remote backend. It keeps no breaker state: every call in remote mode tries
// the remote backend first.
type Coordinator struct {
	mode   Mode
	local  store.Backend
	remote store.Backend
	logger *log.Logger

	fallbacks atomic.Int64
}

var _ store.Store = (*Coordinator)(nil)

// New creates a coordinator. remote may be nil in local mode.
func New(mode Mode, local, remote store.Backend) (*Coordinator, error) {
	if local == nil {
		return nil, errors.New("failover: local backend is required")
	}
	switch mode {
	case ModeLocal:
	case ModeRemote:
		if remote == nil {
			return nil, errors.New("failover: remote mode needs a remote backend")
		}
	default:
		return nil, fmt.Errorf("failover: unknown mode %q", mode)
	}
	return &Coordinator{
		mode:   mode,
		local:  local,
		remote: remote,
		logger: log.Default().WithPrefix("failover"),
	}, nil
}

// Mode returns the configured mode.
func (c *Coordinator) Mode() Mode { return c.mode }

// Fallbacks returns how many calls were served by the local backend because
// the remote one was unavailable.
func (c *Coordinator) Fallbacks() int64 { return c.fallbacks.Load() }

func (c *Coordinator) Users() store.Collection[store.User] {
	return &collection[store.User]{c: c, kind: store.KindUsers, of: func(b store.Backend) store.Collection[store.User] {
		return b.Users()
	}}
}

func (c *Coordinator) Admin() store.Collection[store.AdminSettings] {
	return &collection[store.AdminSettings]{c: c, kind: store.KindAdmin, of: func(b store.Backend) store.Collection[store.AdminSettings] {
		return b.Admin()
	}}
}
