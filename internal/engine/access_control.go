package engine

import (
	"netwarden/internal/config"
	"netwarden/internal/model"
)

// AccessControlSet is the parsed form of the configured allow and deny lists.
type AccessControlSet struct {
	Allow map[model.EntityKey]struct{}
	Deny  map[model.EntityKey]struct{}
}

func buildAccessControl(cfg *config.Config) *AccessControlSet {
	return &AccessControlSet{
		Allow: buildKeySet(cfg.Access.Allowlist),
		Deny:  buildKeySet(cfg.Access.Denylist),
	}
}

func buildKeySet(values []string) map[model.EntityKey]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[model.EntityKey]struct{}, len(values))
	for _, v := range values {
		key, err := model.ParseEntityKey(v)
		if err != nil {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// IsAllowed reports whether any of keys is allowlisted.
func (a *AccessControlSet) IsAllowed(keys ...model.EntityKey) bool {
	return a != nil && containsAny(a.Allow, keys)
}

func (a *AccessControlSet) IsDenied(keys ...model.EntityKey) bool {
	return a != nil && containsAny(a.Deny, keys)
}

func containsAny(set map[model.EntityKey]struct{}, keys []model.EntityKey) bool {
	if set == nil {
		return false
	}
	for _, k := range keys {
		if k.IsZero() {
			continue
		}
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}
