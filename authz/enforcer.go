// Package authz decides who may change causes and stories.
//
// Subjects are role names. A caller also acts as "owner" on causes they
// created, so ownership rules live in the policy next to the role rules.
package authz

import (
	_ "embed"
	"fmt"
	"strings"

	"donatenow/identity"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Objects and actions used by the handlers.
const (
	ObjCause = "cause"
	ObjStory = "story"

	ActCreate = "create"
	ActEdit   = "edit"
	ActDelete = "delete"
	ActLike   = "like"

	RoleOwner = "owner"
)

type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an enforcer from the embedded model and policy.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if err := loadPolicy(e, embeddedPolicy); err != nil {
		return nil, err
	}
	return &Enforcer{enforcer: e}, nil
}

func loadPolicy(e *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := e.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := e.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Can reports whether p may perform act on obj. ownerID is the creator of
// the cause involved, or 0 when there is none. Anonymous callers may do
// nothing here.
func (e *Enforcer) Can(p *identity.Principal, ownerID uint, obj, act string) (bool, error) {
	if p == nil {
		return false, nil
	}
	subjects := []string{p.Role}
	if ownerID != 0 && p.ID == ownerID {
		subjects = append(subjects, RoleOwner)
	}
	for _, sub := range subjects {
		if sub == "" {
			continue
		}
		ok, err := e.enforcer.Enforce(sub, obj, act)
		if err != nil {
			return false, fmt.Errorf("enforcement failed: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
