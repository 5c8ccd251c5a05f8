package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
)

// ErrUnsupportedFormat is returned when the raw key material matches none of
// the supported encodings.
var ErrUnsupportedFormat = errors.New("unsupported signing key format")

// Signer holds the materialized signing credential. It is resolved exactly
// once at startup; the trading core only ever sees this type.
type Signer struct {
	key    ed25519.PrivateKey
	pubkey string
}

// PublicKey returns the base58-encoded wallet address.
func (s *Signer) PublicKey() string {
	return s.pubkey
}

// Sign signs a serialized transaction message.
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.key, message)
}

// ResolveSigner turns raw key material into a Signer. Supported formats:
// a 12/24-word mnemonic phrase (BIP44 path m/44'/501'/0'/0', the Phantom and
// Solflare default), a base58-encoded 64-byte secret key, or a JSON array of
// key bytes. The format is detected from the shape of the input, not by
// trying derivations until one happens to work.
func ResolveSigner(raw string) (*Signer, error) {
	input := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"'`))
	if input == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	}

	switch {
	case strings.HasPrefix(input, "["):
		return fromJSONArray(input)
	case strings.Contains(input, " "):
		return fromMnemonic(input)
	default:
		return fromBase58(input)
	}
}

func newSigner(key ed25519.PrivateKey) *Signer {
	pub := key.Public().(ed25519.PublicKey)
	return &Signer{key: key, pubkey: base58.Encode(pub)}
}

// fromJSONArray parses the `[12,34,...]` export format used by the solana CLI.
func fromJSONArray(input string) (*Signer, error) {
	var bytes []byte
	if err := json.Unmarshal([]byte(input), &bytes); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON byte array: %v", ErrUnsupportedFormat, err)
	}
	return fromKeyBytes(bytes)
}

// fromBase58 parses a base58-encoded secret key (Phantom export format).
func fromBase58(input string) (*Signer, error) {
	bytes, err := base58.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base58: %v", ErrUnsupportedFormat, err)
	}
	return fromKeyBytes(bytes)
}

func fromKeyBytes(bytes []byte) (*Signer, error) {
	switch len(bytes) {
	case ed25519.PrivateKeySize: // 64 bytes: seed || pubkey
		return newSigner(ed25519.PrivateKey(bytes)), nil
	case ed25519.SeedSize: // 32 bytes: seed only
		return newSigner(ed25519.NewKeyFromSeed(bytes)), nil
	default:
		return nil, fmt.Errorf("%w: key length %d, want 32 or 64", ErrUnsupportedFormat, len(bytes))
	}
}

// fromMnemonic derives the keypair from a BIP39 phrase along m/44'/501'/0'/0'.
func fromMnemonic(phrase string) (*Signer, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, fmt.Errorf("%w: invalid mnemonic phrase", ErrUnsupportedFormat)
	}
	seed := bip39.NewSeed(phrase, "")

	key, chainCode := slip10MasterKey(seed)
	for _, index := range []uint32{44, 501, 0, 0} {
		key, chainCode = slip10DeriveHardened(key, chainCode, index)
	}
	return newSigner(ed25519.NewKeyFromSeed(key)), nil
}

// slip10MasterKey computes the SLIP-0010 ed25519 master key from a BIP39 seed.
func slip10MasterKey(seed []byte) (key, chainCode []byte) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// slip10DeriveHardened derives one hardened child. ed25519 only supports
// hardened derivation, so every path segment carries the hardened bit.
func slip10DeriveHardened(key, chainCode []byte, index uint32) (childKey, childChainCode []byte) {
	data := make([]byte, 0, 1+32+4)
	data = append(data, 0x00)
	data = append(data, key...)
	data = binary.BigEndian.AppendUint32(data, index|0x80000000)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}
