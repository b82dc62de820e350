package entitlement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/db/models"
)

// AuthorizationContext holds the deployment's owner identities. It is built once
// at startup and never mutated.
type AuthorizationContext struct {
	owners map[string]struct{}
}

// NewAuthorizationContext builds a context from the configured owner identities.
// Blank entries are ignored.
func NewAuthorizationContext(owners []string) AuthorizationContext {
	set := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = struct{}{}
		}
	}
	return AuthorizationContext{owners: set}
}

// IsOwner reports whether identity is a configured owner.
func (a AuthorizationContext) IsOwner(identity string) bool {
	_, ok := a.owners[identity]
	return ok
}

// Owners returns the owner identities in no particular order.
func (a AuthorizationContext) Owners() []string {
	out := make([]string, 0, len(a.owners))
	for o := range a.owners {
		out = append(out, o)
	}
	return out
}

// Gate decides who may perform administrative actions.
type Gate struct {
	authz    AuthorizationContext
	managers ManagerStore

	now func() time.Time
}

// NewGate creates a Gate.
func NewGate(authz AuthorizationContext, managers ManagerStore) *Gate {
	return &Gate{
		authz:    authz,
		managers: managers,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IsOwner reports whether identity is a configured owner.
func (g *Gate) IsOwner(identity string) bool {
	return g.authz.IsOwner(identity)
}

// IsAuthorized reports whether identity may administer tenantID: owners always
// may, managers may when granted for tenantID or for every tenant.
func (g *Gate) IsAuthorized(ctx context.Context, tenantID, identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	if g.authz.IsOwner(identity) {
		return true, nil
	}
	ok, err := g.managers.IsManager(ctx, tenantID, identity)
	if err != nil {
		return false, storageError("check manager", err)
	}
	return ok, nil
}

// GrantManager makes identity a manager of tenantID, or of every tenant when
// tenantID is models.AllTenants. Only owners may grant.
func (g *Gate) GrantManager(ctx context.Context, actor, tenantID, identity string) (*models.ManagerGrant, error) {
	if !g.authz.IsOwner(actor) {
		return nil, ErrUnauthorized
	}
	if tenantID != models.AllTenants {
		if err := validateTenantID(tenantID); err != nil {
			return nil, err
		}
	}
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	grant := &models.ManagerGrant{
		TenantID:  tenantID,
		Identity:  identity,
		GrantedBy: actor,
		GrantedAt: g.now(),
	}
	if err := g.managers.Grant(ctx, grant); err != nil {
		return nil, storageError("grant manager", err)
	}

	slog.Info("manager granted", "tenant_id", tenantID, "identity", identity, "granted_by", actor)
	return grant, nil
}

// RevokeManager removes identity's manager grant for tenantID. Only owners may revoke.
func (g *Gate) RevokeManager(ctx context.Context, actor, tenantID, identity string) error {
	if !g.authz.IsOwner(actor) {
		return ErrUnauthorized
	}
	if err := g.managers.Revoke(ctx, tenantID, identity); err != nil {
		return storageError("revoke manager", err)
	}
	slog.Info("manager revoked", "tenant_id", tenantID, "identity", identity, "revoked_by", actor)
	return nil
}

// ListManagers returns the grants that apply to tenantID, wildcard grants included.
func (g *Gate) ListManagers(ctx context.Context, tenantID string) ([]models.ManagerGrant, error) {
	grants, err := g.managers.List(ctx, tenantID)
	if err != nil {
		return nil, storageError("list managers", err)
	}
	return grants, nil
}
