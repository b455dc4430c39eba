package sanctions

import (
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters for deriving the cache-at-rest key from
// SanctionsConfig/SourcesConfig.EncryptionKey. N=2^15 keeps derivation
// under ~100ms on commodity hardware while staying well above
// scrypt's interactive-use floor.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
	nonceLen     = 24
)

// cacheCrypto seals and opens sanctions cacheEntry payloads. When no
// passphrase is configured it degrades to plain JSON marshaling, so the
// in-memory cache works identically whether or not ENCRYPTION_KEY is
// set — only the at-rest representation changes.
type cacheCrypto struct {
	key *[32]byte
}

// newCacheCrypto derives a secretbox key from passphrase via scrypt,
// using a random salt generated once for the process's lifetime (the
// cache itself does not survive a restart, so the salt never needs to
// be persisted). An empty passphrase disables encryption.
func newCacheCrypto(passphrase string) (*cacheCrypto, error) {
	if passphrase == "" {
		return &cacheCrypto{}, nil
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], derived)
	return &cacheCrypto{key: &key}, nil
}

func (c *cacheCrypto) enabled() bool { return c != nil && c.key != nil }

// seal marshals result and, when encryption is enabled, encrypts it
// with a fresh random nonce prepended to the ciphertext.
func (c *cacheCrypto) seal(result Result) ([]byte, error) {
	plaintext, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if !c.enabled() {
		return plaintext, nil
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, c.key), nil
}

// open reverses seal.
func (c *cacheCrypto) open(sealed []byte) (Result, error) {
	var result Result
	if !c.enabled() {
		if err := json.Unmarshal(sealed, &result); err != nil {
			return Result{}, err
		}
		return result, nil
	}
	if len(sealed) < nonceLen {
		return Result{}, errors.New("sanctions: sealed cache entry shorter than nonce")
	}
	var nonce [nonceLen]byte
	copy(nonce[:], sealed[:nonceLen])
	plaintext, ok := secretbox.Open(nil, sealed[nonceLen:], &nonce, c.key)
	if !ok {
		return Result{}, errors.New("sanctions: cache entry decryption failed")
	}
	if err := json.Unmarshal(plaintext, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}
