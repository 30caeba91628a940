// Package roles keeps the role assignments and the compute node whitelist.
package roles

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/types"
)

var (
	rolesPrefix     = []byte("roles/")
	whitelistPrefix = []byte("whitelist/")
	whitelisted     = []byte{1}
)

type Registry struct {
	st kv.Store
}

func NewRegistry(st kv.Store) *Registry {
	return &Registry{st: st}
}

func rolesKey(id types.Identity) []byte     { return kv.Key(rolesPrefix, id[:]) }
func whitelistKey(id types.Identity) []byte { return kv.Key(whitelistPrefix, id[:]) }

func (r *Registry) Roles(id types.Identity) (types.RoleSet, error) {
	v, err := r.st.Get(rolesKey(id))
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("reading roles of %s: %w", id, err)
	case len(v) != 1:
		return 0, fmt.Errorf("corrupted roles of %s", id)
	}
	return types.RoleSet(v[0]), nil
}

func (r *Registry) HasRole(id types.Identity, role types.Role) (bool, error) {
	set, err := r.Roles(id)
	if err != nil {
		return false, err
	}
	return set.Has(role), nil
}

// Authorize succeeds if caller holds any of roles.
func (r *Registry) Authorize(caller types.Identity, roles ...types.Role) error {
	set, err := r.Roles(caller)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if set.Has(role) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires one of %v", types.ErrUnauthorized, caller, roles)
}

func (r *Registry) IsAdmin(id types.Identity) (bool, error) {
	return r.HasRole(id, types.Administrator)
}

// GrantRole adds role to id. Granting a role id already holds is a no-op.
func (r *Registry) GrantRole(ctx context.Context, caller, id types.Identity, role types.Role) error {
	if err := r.Authorize(caller, types.Administrator); err != nil {
		return err
	}
	if err := validate(id, role); err != nil {
		return err
	}
	if err := r.update(id, func(s types.RoleSet) types.RoleSet { return s.With(role) }); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("granted role", zap.Stringer("identity", id), zap.Stringer("role", role))
	return nil
}

// RevokeRole removes role from id. An administrator cannot revoke its own
// Administrator role, so at least one administrator always remains.
func (r *Registry) RevokeRole(ctx context.Context, caller, id types.Identity, role types.Role) error {
	if err := r.Authorize(caller, types.Administrator); err != nil {
		return err
	}
	if err := validate(id, role); err != nil {
		return err
	}
	if caller == id && role == types.Administrator {
		return fmt.Errorf("%w: administrator cannot revoke its own role", types.ErrInvalidArgument)
	}
	if err := r.update(id, func(s types.RoleSet) types.RoleSet { return s.Without(role) }); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("revoked role", zap.Stringer("identity", id), zap.Stringer("role", role))
	return nil
}

// Bootstrap assigns roles without authorization. It is only used while
// building the genesis state.
func (r *Registry) Bootstrap(id types.Identity, roles ...types.Role) error {
	for _, role := range roles {
		if err := validate(id, role); err != nil {
			return err
		}
	}
	return r.update(id, func(s types.RoleSet) types.RoleSet {
		for _, role := range roles {
			s = s.With(role)
		}
		return s
	})
}

func (r *Registry) WhitelistComputeNode(ctx context.Context, caller, id types.Identity) error {
	if err := r.Authorize(caller, types.Administrator); err != nil {
		return err
	}
	if id.IsZero() {
		return fmt.Errorf("%w: zero identity", types.ErrInvalidArgument)
	}
	if err := r.st.Put(whitelistKey(id), whitelisted); err != nil {
		return fmt.Errorf("whitelisting %s: %w", id, err)
	}
	logging.FromContext(ctx).Info("whitelisted compute node", zap.Stringer("identity", id))
	return nil
}

// RemoveFromWhitelist stops id from joining runs. Existing memberships are
// left alone.
func (r *Registry) RemoveFromWhitelist(ctx context.Context, caller, id types.Identity) error {
	if err := r.Authorize(caller, types.Administrator); err != nil {
		return err
	}
	if err := r.st.Delete(whitelistKey(id)); err != nil {
		return fmt.Errorf("removing %s from whitelist: %w", id, err)
	}
	logging.FromContext(ctx).Info("removed compute node from whitelist", zap.Stringer("identity", id))
	return nil
}

func (r *Registry) IsWhitelisted(id types.Identity) (bool, error) {
	ok, err := r.st.Has(whitelistKey(id))
	if err != nil {
		return false, fmt.Errorf("reading whitelist: %w", err)
	}
	return ok, nil
}

func (r *Registry) update(id types.Identity, fn func(types.RoleSet) types.RoleSet) error {
	set, err := r.Roles(id)
	if err != nil {
		return err
	}
	next := fn(set)
	if next == set {
		return nil
	}
	if next == 0 {
		return r.st.Delete(rolesKey(id))
	}
	if err := r.st.Put(rolesKey(id), []byte{byte(next)}); err != nil {
		return fmt.Errorf("storing roles of %s: %w", id, err)
	}
	return nil
}

func validate(id types.Identity, role types.Role) error {
	if id.IsZero() {
		return fmt.Errorf("%w: zero identity", types.ErrInvalidArgument)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %d", types.ErrInvalidArgument, role)
	}
	return nil
}
