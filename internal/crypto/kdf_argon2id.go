package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

const SaltSize = 32

type KDFParams struct {
	M    uint32
	T    uint32
	P    uint8
	Salt []byte
}

// DefaultInteractiveKDF returns parameters tuned for interactive unlock
// latency (sub-second on commodity hardware). There is no stored password
// verifier anywhere: the derived key either opens the existing envelope or
// it does not, so this derivation is the only password check.
func DefaultInteractiveKDF() KDFParams {
	salt := make([]byte, SaltSize)
	_, _ = rand.Read(salt)
	return InteractiveKDF(salt)
}

// InteractiveKDF binds the interactive profile to an existing salt.
func InteractiveKDF(salt []byte) KDFParams {
	return KDFParams{M: 64 * 1024, T: 3, P: 4, Salt: salt}
}

func DeriveMasterKey(password []byte, p KDFParams) (key [32]byte) {
	k := argon2.IDKey(password, p.Salt, p.T, p.M, p.P, 32)
	copy(key[:], k)
	Zero(k)
	return
}

func EncodeSalt(b []byte) string {
	return hex.EncodeToString(b)
}

func DecodeSalt(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
