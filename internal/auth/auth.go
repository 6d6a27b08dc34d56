package auth

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type Role string

const (
	// RoleAdmin may change pool and pricing parameters.
	RoleAdmin Role = "admin"
	// RolePool may register new position ids with the registry.
	RolePool Role = "pool"
)

var ErrUnauthorized = errors.New("auth: caller is missing the required role")

// Table is an explicit role -> principal-set authorization table. It replaces
// inherited role-based access control: mutating entry points call Require at
// the top and fail closed.
type Table struct {
	mu    sync.RWMutex
	roles map[Role]map[common.Address]struct{}
}

func NewTable() *Table {
	return &Table{roles: make(map[Role]map[common.Address]struct{})}
}

func (t *Table) Grant(role Role, principal common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.roles[role]
	if !ok {
		members = make(map[common.Address]struct{})
		t.roles[role] = members
	}
	members[principal] = struct{}{}
}

func (t *Table) Revoke(role Role, principal common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if members, ok := t.roles[role]; ok {
		delete(members, principal)
	}
}

func (t *Table) Has(role Role, principal common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.roles[role][principal]
	return ok
}

func (t *Table) Require(role Role, principal common.Address) error {
	if !t.Has(role, principal) {
		return ErrUnauthorized
	}
	return nil
}
