package pool

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// Checksum digests a snapshot into a 32-byte fingerprint. Two replicas with
// the same ledger produce the same checksum, which makes divergence cheap to
// detect in logs. TakenAt is excluded from the encoding so the digest depends
// on ledger content only.
func Checksum(snap Snapshot) ([32]byte, error) {
	var sum [32]byte
	raw, err := msgpack.Marshal(&snap)
	if err != nil {
		return sum, err
	}
	copy(sum[:], crypto.Keccak256(raw))
	return sum, nil
}
