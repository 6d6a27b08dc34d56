// Command verify inspects the snapshots persisted by the daemon: it recomputes
// each pool checksum against the stored one and can dump the raw snapshots.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"optionpool/internal/config"
	"optionpool/internal/pool"
	"optionpool/internal/state"
	"optionpool/internal/state/sqlite"
)

const defaultStatePath = "data/optionpool.db"

func main() {
	configPath := flag.String("config", "", "optional config path for the state location")
	statePath := flag.String("state", "", "sqlite state path (overrides config)")
	dump := flag.Bool("dump", false, "print the stored snapshots as JSON")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}

	path := defaultStatePath
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		if cfg.State.SQLitePath != "" {
			path = cfg.State.SQLitePath
		}
	}
	if *statePath != "" {
		path = *statePath
	}
	if _, err := os.Stat(path); err != nil {
		fatal(fmt.Errorf("state database not found at %s: %w", path, err))
	}

	store, err := sqlite.New(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	clean := true
	for _, name := range []string{"call", "put"} {
		ok, err := verifyPool(ctx, store, name, *dump)
		if err != nil {
			fatal(err)
		}
		clean = clean && ok
	}

	snap, ok, err := state.LoadStakingSnapshot(ctx, store)
	if err != nil {
		fatal(err)
	}
	if !ok {
		fmt.Println("staking: no snapshot stored")
	} else {
		fmt.Printf("staking: lots=%d accounts=%d\n", snap.LotCount, len(snap.Accounts))
		if *dump {
			printJSON(snap)
		}
	}

	if !clean {
		os.Exit(1)
	}
}

func verifyPool(ctx context.Context, store state.Store, name string, dump bool) (bool, error) {
	record, ok, err := state.LoadPoolSnapshot(ctx, store, name)
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Printf("%s pool: no snapshot stored\n", name)
		return true, nil
	}
	sum, err := pool.Checksum(record.Snapshot)
	if err != nil {
		return false, err
	}
	got := fmt.Sprintf("%x", sum)
	if record.Checksum == "" {
		return false, errors.New(name + " pool: snapshot has no stored checksum")
	}
	if got != record.Checksum {
		fmt.Printf("%s pool: CHECKSUM MISMATCH stored=%s computed=%s\n", name, record.Checksum, got)
		return false, nil
	}
	fmt.Printf("%s pool: checksum ok (%s) tranches=%d options=%d\n",
		name, got, len(record.Snapshot.Tranches), len(record.Snapshot.Options))
	if dump {
		printJSON(record.Snapshot)
	}
	return true, nil
}

func printJSON(v any) {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
