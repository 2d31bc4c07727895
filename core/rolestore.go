package core

import (
	"bytes"
	"fmt"
	"sync"
)

// RoleStore tracks capability/role grants for addresses (verifiers, workers)
// against a durable StateStore, with an in-memory cache for repeat lookups.
// Keys are stored under the prefix "role:<addr_hex>:<role>" so lookups can
// be performed per address without a full scan.
//
// The store is safe for concurrent use.
type RoleStore struct {
	mu    sync.Mutex
	store StateStore
	cache map[Address]map[string]struct{}
}

// NewRoleStore returns a new RoleStore backed by the provided StateStore.
func NewRoleStore(store StateStore) *RoleStore {
	return &RoleStore{store: store, cache: make(map[Address]map[string]struct{})}
}

func (rs *RoleStore) key(addr Address, role string) []byte {
	hex := addr.Hex()
	b := make([]byte, 0, len("role:")+len(hex)+1+len(role))
	b = append(b, "role:"...)
	b = append(b, hex...)
	b = append(b, ':')
	b = append(b, role...)
	return b
}

// GrantRole assigns a role to the given address. It returns an error if the
// role is already present.
func (rs *RoleStore) GrantRole(addr Address, role string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if roles, ok := rs.cache[addr]; ok {
		if _, ok := roles[role]; ok {
			return fmt.Errorf("role already granted")
		}
	}
	k := rs.key(addr, role)
	if ok, _ := rs.store.HasState(k); ok {
		rs.remember(addr, role)
		return fmt.Errorf("role already granted")
	}
	if err := rs.store.SetState(k, []byte{1}); err != nil {
		return err
	}
	rs.remember(addr, role)
	return nil
}

func (rs *RoleStore) remember(addr Address, role string) {
	if _, ok := rs.cache[addr]; !ok {
		rs.cache[addr] = make(map[string]struct{})
	}
	rs.cache[addr][role] = struct{}{}
}

// RevokeRole removes a role from the given address. It returns an error if
// the role is not present.
func (rs *RoleStore) RevokeRole(addr Address, role string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	k := rs.key(addr, role)
	if roles, ok := rs.cache[addr]; ok {
		if _, ok := roles[role]; !ok {
			if ok, _ := rs.store.HasState(k); !ok {
				return fmt.Errorf("role not found")
			}
		}
	} else if ok, _ := rs.store.HasState(k); !ok {
		return fmt.Errorf("role not found")
	}
	if err := rs.store.DeleteState(k); err != nil {
		return err
	}
	if roles, ok := rs.cache[addr]; ok {
		delete(roles, role)
		if len(roles) == 0 {
			delete(rs.cache, addr)
		}
	}
	return nil
}

// HasRole reports whether the address has the specified role.
func (rs *RoleStore) HasRole(addr Address, role string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if roles, ok := rs.cache[addr]; ok {
		if _, ok := roles[role]; ok {
			return true
		}
	}
	ok, _ := rs.store.HasState(rs.key(addr, role))
	if ok {
		rs.remember(addr, role)
	}
	return ok
}

// ListRoles returns all roles granted to the address.
func (rs *RoleStore) ListRoles(addr Address) ([]string, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if cached, ok := rs.cache[addr]; ok {
		roles := make([]string, 0, len(cached))
		for r := range cached {
			roles = append(roles, r)
		}
		return roles, nil
	}
	prefix := []byte(fmt.Sprintf("role:%s:", addr.Hex()))
	it := rs.store.PrefixIterator(prefix)
	rolesMap := make(map[string]struct{})
	for it.Next() {
		parts := bytes.SplitN(it.Key(), []byte(":"), 3)
		if len(parts) == 3 {
			rolesMap[string(parts[2])] = struct{}{}
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	rs.cache[addr] = rolesMap
	roles := make([]string, 0, len(rolesMap))
	for r := range rolesMap {
		roles = append(roles, r)
	}
	return roles, nil
}
