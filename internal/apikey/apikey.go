// Package apikey gates voice sessions on a confirmed API key.
//
// The host decides how a key is chosen. [Selector] is the capability it
// provides; [Guard] wraps an s2s.Provider so that no session is dialled
// before a key has been confirmed.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s"
)

var (
	// ErrNoAPIKey is returned by [Guard.Connect] when no key is selected.
	// The text matches the backend's own wording so it is reported to the
	// user as an invalid key.
	ErrNoAPIKey = errors.New("apikey: API key not found")

	// ErrUnavailable is returned by OpenSelectKey when the host cannot
	// prompt for a key.
	ErrUnavailable = errors.New("apikey: key selection unavailable")
)

// UnavailableMessage is the user-facing text for [ErrUnavailable].
const UnavailableMessage = "A funcionalidade de seleção de chave de API não está disponível."

// Selector is the host capability for choosing an API key.
type Selector interface {
	// HasSelectedAPIKey reports whether a key is currently selected.
	HasSelectedAPIKey(ctx context.Context) (bool, error)

	// OpenSelectKey asks the host to let the user pick a key.
	OpenSelectKey(ctx context.Context) error
}

// Static is a Selector over a fixed key, typically read from configuration.
// It cannot prompt, so OpenSelectKey always returns [ErrUnavailable].
type Static struct {
	Key string
}

// HasSelectedAPIKey implements [Selector].
func (s Static) HasSelectedAPIKey(context.Context) (bool, error) {
	return s.Key != "", nil
}

// OpenSelectKey implements [Selector].
func (s Static) OpenSelectKey(context.Context) error {
	return ErrUnavailable
}

// Guard is an s2s.Provider that refuses to connect without a selected key.
type Guard struct {
	sel  Selector
	next s2s.Provider
	log  *slog.Logger
}

// NewGuard wraps next.
func NewGuard(sel Selector, next s2s.Provider) *Guard {
	return &Guard{sel: sel, next: next, log: slog.Default()}
}

// Connect implements s2s.Provider. When no key is selected it asks the host
// to open its key picker and checks once more before giving up with
// [ErrNoAPIKey].
func (g *Guard) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	ok, err := g.sel.HasSelectedAPIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("apikey: check selection: %w", err)
	}
	if !ok {
		if err := g.sel.OpenSelectKey(ctx); err != nil {
			g.log.Warn("apikey: open key selection", "err", err)
		}
		ok, err = g.sel.HasSelectedAPIKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("apikey: check selection: %w", err)
		}
		if !ok {
			return nil, ErrNoAPIKey
		}
	}
	return g.next.Connect(ctx, cfg)
}

var _ s2s.Provider = (*Guard)(nil)
