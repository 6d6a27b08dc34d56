// Package registry tracks ownership and approvals for position ids. It is the
// shared ledger the pools consult by capability (IsApprovedOrOwner) instead of
// carrying transfer semantics themselves.
package registry

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"optionpool/internal/auth"
)

var (
	ErrUnknownID    = errors.New("registry: unknown position id")
	ErrExists       = errors.New("registry: position id already registered")
	ErrNotOwner     = errors.New("registry: caller is not the owner")
	ErrNotEligible  = errors.New("registry: caller is neither owner nor approved")
	ErrZeroAddress  = errors.New("registry: zero address")
	ErrSelfApproval = errors.New("registry: cannot approve yourself as operator")
)

type TransferFunc func(from, to common.Address, id uint64)

// Manager owns the id -> holder mapping for one class of positions.
type Manager struct {
	authTable *auth.Table

	mu        sync.RWMutex
	owners    map[uint64]common.Address
	approved  map[uint64]common.Address
	operators map[common.Address]map[common.Address]bool
	onXfer    TransferFunc
}

func NewManager(authTable *auth.Table) *Manager {
	return &Manager{
		authTable: authTable,
		owners:    make(map[uint64]common.Address),
		approved:  make(map[uint64]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

// OnTransfer installs a hook fired for every ownership change, including the
// mint (from the zero address) done by Register.
func (m *Manager) OnTransfer(fn TransferFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onXfer = fn
}

// Register mints id to owner. Only principals holding the pool role may mint.
func (m *Manager) Register(minter common.Address, id uint64, owner common.Address) error {
	if err := m.authTable.Require(auth.RolePool, minter); err != nil {
		return err
	}
	if owner == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	if _, ok := m.owners[id]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	m.owners[id] = owner
	hook := m.onXfer
	m.mu.Unlock()
	if hook != nil {
		hook(common.Address{}, owner, id)
	}
	return nil
}

// Burn removes id from the registry. Only the minting role may burn; the pool
// burns a tranche when it closes.
func (m *Manager) Burn(minter common.Address, id uint64) error {
	if err := m.authTable.Require(auth.RolePool, minter); err != nil {
		return err
	}
	m.mu.Lock()
	owner, ok := m.owners[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownID
	}
	delete(m.owners, id)
	delete(m.approved, id)
	hook := m.onXfer
	m.mu.Unlock()
	if hook != nil {
		hook(owner, common.Address{}, id)
	}
	return nil
}

func (m *Manager) OwnerOf(id uint64) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[id]
	if !ok {
		return common.Address{}, ErrUnknownID
	}
	return owner, nil
}

func (m *Manager) IsApprovedOrOwner(spender common.Address, id uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[id]
	if !ok {
		return false, ErrUnknownID
	}
	if spender == owner {
		return true, nil
	}
	if m.approved[id] == spender {
		return true, nil
	}
	return m.operators[owner][spender], nil
}

// Approve grants spender control over a single id. Caller must own it.
func (m *Manager) Approve(caller, spender common.Address, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[id]
	if !ok {
		return ErrUnknownID
	}
	if caller != owner && !m.operators[owner][caller] {
		return ErrNotOwner
	}
	m.approved[id] = spender
	return nil
}

func (m *Manager) SetApprovalForAll(caller, operator common.Address, approved bool) error {
	if operator == caller {
		return ErrSelfApproval
	}
	if operator == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ops, ok := m.operators[caller]
	if !ok {
		ops = make(map[common.Address]bool)
		m.operators[caller] = ops
	}
	ops[operator] = approved
	return nil
}

// Transfer moves id from its current owner to another holder. The caller must
// be the owner or approved; per-id approvals are cleared on transfer.
func (m *Manager) Transfer(caller, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	owner, ok := m.owners[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownID
	}
	eligible := caller == owner || m.approved[id] == caller || m.operators[owner][caller]
	if !eligible {
		m.mu.Unlock()
		return ErrNotEligible
	}
	m.owners[id] = to
	delete(m.approved, id)
	hook := m.onXfer
	m.mu.Unlock()
	if hook != nil {
		hook(owner, to, id)
	}
	return nil
}
