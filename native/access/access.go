package access

import (
	"context"
	"fmt"
	"strings"

	"swapcore/core/events"
	"swapcore/core/state"
	"swapcore/native/common"
)

var (
	adminKey       = []byte("access/admin")
	reporterPrefix = "access/reporter/"
	pausePrefix    = "access/pause/"
)

// PausableModules lists the modules whose circuit breaker can be engaged.
var PausableModules = []string{common.ModuleHTLC, common.ModuleRouter}

func reporterKey(id [20]byte) []byte {
	return append([]byte(reporterPrefix), id[:]...)
}

func pauseKey(module string) []byte {
	return []byte(pausePrefix + strings.ToLower(strings.TrimSpace(module)))
}

// Admin returns the administrator identity and whether one is configured.
func Admin(store state.Store) ([20]byte, bool, error) {
	var admin [20]byte
	ok, err := store.KVGet(adminKey, &admin)
	if err != nil {
		return [20]byte{}, false, fmt.Errorf("access: load admin: %w", err)
	}
	return admin, ok, nil
}

// IsReporter reports whether id is an authorized price reporter.
func IsReporter(store state.Store, id [20]byte) (bool, error) {
	var active bool
	if _, err := store.KVGet(reporterKey(id), &active); err != nil {
		return false, fmt.Errorf("access: load reporter: %w", err)
	}
	return active, nil
}

// RequireAdmin fails with an authorization error unless caller is the
// administrator.
func RequireAdmin(store state.Store, caller [20]byte) error {
	admin, ok, err := Admin(store)
	if err != nil {
		return err
	}
	if !ok || admin != caller {
		return common.ErrNotAdmin
	}
	return nil
}

// RequireReporterOrAdmin admits authorized reporters and the administrator.
func RequireReporterOrAdmin(store state.Store, caller [20]byte) error {
	admin, ok, err := Admin(store)
	if err != nil {
		return err
	}
	if ok && admin == caller {
		return nil
	}
	active, err := IsReporter(store, caller)
	if err != nil {
		return err
	}
	if !active {
		return common.ErrNotAllowed
	}
	return nil
}

// Pauses adapts a store to common.PauseView. Read failures are reported as
// paused so a broken store never lets a guarded call through.
type Pauses struct {
	Store state.Store
}

func (p Pauses) IsPaused(module string) bool {
	var paused bool
	if _, err := p.Store.KVGet(pauseKey(module), &paused); err != nil {
		return true
	}
	return paused
}

func validModule(module string) bool {
	normalized := strings.ToLower(strings.TrimSpace(module))
	for _, m := range PausableModules {
		if m == normalized {
			return true
		}
	}
	return false
}

// Keeper owns the administrator, reporter set and pause flags.
type Keeper struct {
	state *state.Manager
}

func NewKeeper(manager *state.Manager) *Keeper {
	return &Keeper{state: manager}
}

// Bootstrap installs the first administrator. It fails once an administrator
// exists.
func (k *Keeper) Bootstrap(ctx context.Context, admin [20]byte) error {
	if admin == ([20]byte{}) {
		return common.ValidationError("administrator identity required")
	}
	return k.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if _, ok, err := Admin(tx); err != nil {
			return err
		} else if ok {
			return common.StateError("administrator already configured")
		}
		return InstallAdmin(tx, admin)
	})
}

// InstallAdmin writes the first administrator. Callers check that none is
// configured yet.
func InstallAdmin(store state.Store, admin [20]byte) error {
	if err := store.KVPut(adminKey, admin); err != nil {
		return err
	}
	store.Emit(events.AdminTransferred{Current: admin})
	return nil
}

// TransferAdmin hands the administrator role to next.
func (k *Keeper) TransferAdmin(ctx context.Context, caller, next [20]byte) error {
	if next == ([20]byte{}) {
		return common.ValidationError("administrator identity required")
	}
	return k.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := RequireAdmin(tx, caller); err != nil {
			return err
		}
		if err := tx.KVPut(adminKey, next); err != nil {
			return err
		}
		tx.Emit(events.AdminTransferred{Previous: caller, Current: next})
		return nil
	})
}

// SetPaused engages or releases a module's circuit breaker.
func (k *Keeper) SetPaused(ctx context.Context, caller [20]byte, module string, paused bool) error {
	if !validModule(module) {
		return common.ValidationError("unknown module %q", module)
	}
	return k.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := RequireAdmin(tx, caller); err != nil {
			return err
		}
		if err := tx.KVPut(pauseKey(module), paused); err != nil {
			return err
		}
		tx.Emit(events.PauseToggled{Module: module, Paused: paused, By: caller})
		return nil
	})
}

// IsPaused reads a committed pause flag.
func (k *Keeper) IsPaused(ctx context.Context, module string) bool {
	paused := true
	_ = k.state.View(ctx, func(tx *state.Tx) error {
		paused = Pauses{Store: tx}.IsPaused(module)
		return nil
	})
	return paused
}

// Admin reads the committed administrator.
func (k *Keeper) Admin(ctx context.Context) ([20]byte, bool, error) {
	var (
		admin [20]byte
		ok    bool
	)
	err := k.state.View(ctx, func(tx *state.Tx) error {
		var err error
		admin, ok, err = Admin(tx)
		return err
	})
	return admin, ok, err
}

// SetReporter toggles reporter membership. The oracle registry calls it under
// its own transaction so the change and its event commit together.
func SetReporter(store state.Store, id [20]byte, active bool) error {
	if active {
		return store.KVPut(reporterKey(id), true)
	}
	return store.KVDelete(reporterKey(id))
}
