package escrow

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// addressDomain separates escrow addresses from any other blake2b use.
const addressDomain = "escrow:v1"

// DeriveAddress computes the deterministic record address for an owner. The
// salt lets the derivation be re-run by anyone holding the record, mirroring
// how the address was produced at initialization.
func DeriveAddress(owner Identity, salt byte) string {
	buf := make([]byte, 0, len(addressDomain)+len(owner)+1)
	buf = append(buf, addressDomain...)
	buf = append(buf, owner[:]...)
	buf = append(buf, salt)
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
