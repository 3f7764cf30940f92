package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	xchacha "golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Envelope is the only at-rest and on-wire shape of vault plaintext:
// a fresh random nonce plus the XChaCha20-Poly1305 ciphertext. It
// marshals as {"nonce": hex, "ciphertext": hex}.
type Envelope struct {
	Nonce      []byte
	Ciphertext []byte
}

// ErrDecrypt is the single failure signal for Open. Wrong key, tampered
// ciphertext and truncation are indistinguishable on purpose: the decrypt
// check doubles as the password check and must not leak why it failed.
var ErrDecrypt = errors.New("crypto: decryption failed")

func Seal(key, plaintext, aad []byte) (Envelope, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return Envelope{Nonce: nonce, Ciphertext: ct}, nil
}

func Open(key []byte, env Envelope, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, ErrDecrypt
	}
	if len(env.Nonce) != xchacha.NonceSizeX {
		return nil, ErrDecrypt
	}
	pt, err := aead.Open(nil, env.Nonce, env.Ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// DeriveSubKey expands master into an independent key for the given context
// string via HKDF-SHA256. Keeps the vault file and the sync payload under
// separate keys even though both descend from the same master.
func DeriveSubKey(master []byte, context string) (sub [32]byte, err error) {
	stream := hkdf.New(sha256.New, master, nil, []byte(context))
	if _, err = io.ReadFull(stream, sub[:]); err != nil {
		return sub, err
	}
	return sub, nil
}

type envelopeJSON struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		Nonce:      hex.EncodeToString(e.Nonce),
		Ciphertext: hex.EncodeToString(e.Ciphertext),
	})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	nonce, err := hex.DecodeString(raw.Nonce)
	if err != nil {
		return err
	}
	ct, err := hex.DecodeString(raw.Ciphertext)
	if err != nil {
		return err
	}
	e.Nonce = nonce
	e.Ciphertext = ct
	return nil
}
