package state

import (
	"context"
	"encoding/json"
	"strings"

	"optionpool/internal/asset"
	"optionpool/internal/pool"
	"optionpool/internal/registry"
	"optionpool/internal/staking"
)

const (
	poolSnapshotPrefix  = "pool:snapshot:"
	assetBalancesPrefix = "asset:balances:"
	StakingSnapshotKey  = "staking:last_snapshot"
)

// PoolRecord pairs a pool snapshot with its ledger checksum so a restored
// replica can be cross-checked against the digest that was logged when the
// snapshot was taken. The registry snapshots travel with the ledger: a pool
// restored without its position owners could never pay anyone out.
type PoolRecord struct {
	Snapshot pool.Snapshot     `json:"snapshot"`
	Tranches registry.Snapshot `json:"tranches"`
	Options  registry.Snapshot `json:"options"`
	Checksum string            `json:"checksum"`
}

// PoolSnapshotKey namespaces snapshots per pool, e.g. "pool:snapshot:call".
func PoolSnapshotKey(name string) string {
	return poolSnapshotPrefix + name
}

func LoadPoolSnapshot(ctx context.Context, store Store, name string) (PoolRecord, bool, error) {
	if store == nil {
		return PoolRecord{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, PoolSnapshotKey(name))
	if err != nil {
		return PoolRecord{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return PoolRecord{}, false, nil
	}
	var record PoolRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return PoolRecord{}, false, err
	}
	return record, true, nil
}

func SavePoolSnapshot(ctx context.Context, store Store, name string, record PoolRecord) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, PoolSnapshotKey(name), string(payload))
}

// AssetBalancesKey namespaces token ledgers per symbol, e.g.
// "asset:balances:WETH".
func AssetBalancesKey(symbol string) string {
	return assetBalancesPrefix + symbol
}

func LoadAssetBalances(ctx context.Context, store Store, symbol string) ([]asset.BalanceSnapshot, bool, error) {
	if store == nil {
		return nil, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, AssetBalancesKey(symbol))
	if err != nil {
		return nil, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, false, nil
	}
	var balances []asset.BalanceSnapshot
	if err := json.Unmarshal([]byte(raw), &balances); err != nil {
		return nil, false, err
	}
	return balances, true, nil
}

func SaveAssetBalances(ctx context.Context, store Store, symbol string, balances []asset.BalanceSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(balances)
	if err != nil {
		return err
	}
	return store.Set(ctx, AssetBalancesKey(symbol), string(payload))
}

func LoadStakingSnapshot(ctx context.Context, store Store) (staking.Snapshot, bool, error) {
	if store == nil {
		return staking.Snapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, StakingSnapshotKey)
	if err != nil {
		return staking.Snapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return staking.Snapshot{}, false, nil
	}
	var snapshot staking.Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return staking.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveStakingSnapshot(ctx context.Context, store Store, snapshot staking.Snapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, StakingSnapshotKey, string(payload))
}
