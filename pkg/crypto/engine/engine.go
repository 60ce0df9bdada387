// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-e2ee.
//
// go-e2ee is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package engine provides the stateless cryptographic primitives for the
// end-to-end encrypted messaging subsystem: content key generation, hybrid
// encryption (AES-256-GCM content encryption with RSA-OAEP key wrapping),
// password-based key derivation and key fingerprinting.
//
// Algorithm parameters are fixed: AES-GCM with 256-bit keys and 96-bit IVs,
// RSA-OAEP with a 2048-bit modulus and SHA-256, PBKDF2 with SHA-256. A fresh
// random IV is generated for every encryption; IV reuse under AES-GCM breaks
// confidentiality.
package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sys/cpu"
)

const (
	// KeySize is the AES content key size in bytes (256 bits).
	KeySize = 32

	// IVSize is the AES-GCM IV size in bytes (96 bits).
	IVSize = 12

	// SaltSize is the PBKDF2 salt size in bytes.
	SaltSize = 32

	// RSAModulusBits is the RSA-OAEP modulus length.
	RSAModulusBits = 2048

	// MinIterations is the minimum accepted PBKDF2 iteration count.
	MinIterations = 100000

	// BackupIterations is the iteration count for the password/passphrase
	// backup layer.
	BackupIterations = 100000

	// DeviceIterations is the iteration count for the local device-binding
	// layer (OWASP 2023 recommendation). Higher than the backup layer because
	// the device-derived secret has far less entropy than a user password.
	DeviceIterations = 310000

	// fingerprintLen is the number of hex characters retained from a SHA-256
	// digest when fingerprinting a key. A usability/security tradeoff: short
	// enough to compare by eye, long enough to make accidental collision
	// negligible for the wrong-key signal.
	fingerprintLen = 16
)

// ContentKey is a symmetric AES-256-GCM key generated fresh for every
// outgoing message. It is never persisted; it exists only transiently during
// send (wrapped once per recipient, then discarded) and receive
// (reconstructed by unwrapping).
type ContentKey struct {
	raw []byte
}

// Fingerprint returns the first 16 hex characters of SHA-256 over the raw key
// bytes. Deterministic per key; carried in every encrypted message so the
// recipient can distinguish "wrong key" from "corrupted ciphertext".
func (k *ContentKey) Fingerprint() string {
	sum := sha256.Sum256(k.raw)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// KeyPair is an RSA-OAEP asymmetric key pair owned by exactly one user
// identity. The public half encrypts (wraps content keys); the private half
// decrypts. The private key is never shared in plaintext.
type KeyPair struct {
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
}

// EncryptedMessage is the wire representation of one encrypted message body.
type EncryptedMessage struct {
	EncryptedContent string
	IV               string
	KeyFingerprint   string
	Algorithm        string
}

// DerivedKey is a password-derived AES-256-GCM key. Only the sealed AEAD is
// retained; the raw key bytes are unrecoverable through this type, which
// keeps the derived key non-exportable by construction.
type DerivedKey struct {
	aead cipher.AEAD
}

// GenerateContentKey returns a fresh random AES-256-GCM content key usable
// for both encryption and decryption.
func GenerateContentKey() (*ContentKey, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("engine: failed to generate content key: %w", err)
	}
	return &ContentKey{raw: raw}, nil
}

// GenerateKeyPair returns a fresh RSA-OAEP 2048-bit key pair with public
// exponent 65537.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAModulusBits)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to generate RSA key pair: %w", err)
	}
	return &KeyPair{PublicKey: &priv.PublicKey, PrivateKey: priv}, nil
}

// ExportPublicKey serializes a public key to base64-encoded SPKI.
func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("%w: nil public key", ErrMalformedKey)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("engine: failed to export public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ImportPublicKey parses a base64-encoded SPKI public key. Returns
// ErrMalformedKey if the input fails structural validation.
func ImportPublicKey(keyString string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(keyString)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedKey, err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid SPKI encoding: %v", ErrMalformedKey, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrMalformedKey)
	}
	return pub, nil
}

// ExportPrivateKey serializes a private key to base64-encoded PKCS#8. Used
// only by the explicit backup/export flows; a private key is never exported
// anywhere else.
func ExportPrivateKey(priv *rsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("%w: nil private key", ErrMalformedKey)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("engine: failed to export private key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ImportPrivateKey parses a base64-encoded PKCS#8 private key. Returns
// ErrMalformedKey if the input fails structural validation.
func ImportPrivateKey(keyString string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(keyString)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedKey, err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid PKCS#8 encoding: %v", ErrMalformedKey, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", ErrMalformedKey)
	}
	return priv, nil
}

// EncryptContent encrypts a plaintext message body with a content key. A
// fresh random IV is generated per call and the key fingerprint is embedded
// so the recipient can verify key selection before decrypting.
func EncryptContent(plaintext string, key *ContentKey) (*EncryptedMessage, error) {
	aead, err := newGCM(key.raw)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("engine: failed to generate IV: %w", err)
	}

	ciphertext := aead.Seal(nil, iv, []byte(plaintext), nil)

	return &EncryptedMessage{
		EncryptedContent: base64.StdEncoding.EncodeToString(ciphertext),
		IV:               base64.StdEncoding.EncodeToString(iv),
		KeyFingerprint:   key.Fingerprint(),
		Algorithm:        "AES-GCM",
	}, nil
}

// DecryptContent decrypts an encrypted message body. The key fingerprint is
// recomputed and checked before the AEAD decrypt is attempted, so a wrong key
// surfaces as ErrKeyMismatch rather than being conflated with an AEAD tag
// failure; any AEAD failure surfaces as ErrDecryptionFailed.
func DecryptContent(msg *EncryptedMessage, key *ContentKey) (string, error) {
	if key.Fingerprint() != msg.KeyFingerprint {
		return "", ErrKeyMismatch
	}

	ciphertext, err := base64.StdEncoding.DecodeString(msg.EncryptedContent)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}
	iv, err := base64.StdEncoding.DecodeString(msg.IV)
	if err != nil || len(iv) != IVSize {
		return "", fmt.Errorf("%w: invalid IV", ErrDecryptionFailed)
	}

	aead, err := newGCM(key.raw)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// WrapKeyForRecipient encrypts the raw content key bytes with a recipient's
// RSA-OAEP public key. The output is base64-encoded and only the holder of
// the matching private key can recover the content key.
func WrapKeyForRecipient(key *ContentKey, recipientPublicKey *rsa.PublicKey) (string, error) {
	if recipientPublicKey == nil {
		return "", fmt.Errorf("%w: nil recipient public key", ErrMalformedKey)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipientPublicKey, key.raw, nil)
	if err != nil {
		return "", fmt.Errorf("engine: failed to wrap content key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// UnwrapKeyFromSender decrypts a wrapped content key with the recipient's
// private key and reconstructs it as a content key usable for both encrypt
// and decrypt. Decrypt capability alone would not suffice: the fingerprint
// check re-derives digests from the same key material.
func UnwrapKeyFromSender(wrapped string, ownPrivateKey *rsa.PrivateKey) (*ContentKey, error) {
	if ownPrivateKey == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrMalformedKey)
	}
	wrappedBytes, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid wrapped key encoding", ErrMalformedKey)
	}
	raw, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, ownPrivateKey, wrappedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to unwrap content key: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: unwrapped key has invalid length %d", ErrMalformedKey, len(raw))
	}
	return &ContentKey{raw: raw}, nil
}

// PublicKeyFingerprint returns a human-readable fingerprint of a public key
// in the format "XXXX XXXX XXXX XXXX": the first 16 hex characters of
// SHA-256 over the SPKI bytes, uppercased and grouped by four. Deterministic;
// used for out-of-band identity verification by end users.
func PublicKeyFingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("engine: failed to fingerprint public key: %w", err)
	}
	sum := sha256.Sum256(der)
	hexStr := strings.ToUpper(hex.EncodeToString(sum[:])[:fingerprintLen])

	groups := make([]string, 0, fingerprintLen/4)
	for i := 0; i < len(hexStr); i += 4 {
		groups = append(groups, hexStr[i:i+4])
	}
	return strings.Join(groups, " "), nil
}

// DeriveKeyFromPassword derives an AES-256-GCM key from a password or
// passphrase using PBKDF2-SHA256. The derived key is non-exportable: the raw
// key bytes are zeroed after the AEAD is constructed, preventing the key from
// leaking via export paths.
func DeriveKeyFromPassword(password string, salt []byte, iterations int) (*DerivedKey, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("%w: need at least 16 bytes, got %d", ErrInvalidSalt, len(salt))
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: need at least %d, got %d", ErrInvalidIterations, MinIterations, iterations)
	}

	raw := pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
	aead, err := newGCM(raw)
	for i := range raw {
		raw[i] = 0
	}
	if err != nil {
		return nil, err
	}
	return &DerivedKey{aead: aead}, nil
}

// EncryptWithDerivedKey AEAD-encrypts data under a password-derived key with
// a fresh random IV. Returns base64 ciphertext and IV.
func EncryptWithDerivedKey(data string, key *DerivedKey) (ciphertext, iv string, err error) {
	rawIV := make([]byte, IVSize)
	if _, err := rand.Read(rawIV); err != nil {
		return "", "", fmt.Errorf("engine: failed to generate IV: %w", err)
	}
	sealed := key.aead.Seal(nil, rawIV, []byte(data), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(rawIV), nil
}

// DecryptWithDerivedKey decrypts data encrypted under a password-derived key.
// Every failure is reported as ErrPasswordIncorrect: an AEAD tag failure from
// a wrong password cannot be told apart from corruption.
func DecryptWithDerivedKey(ciphertext string, key *DerivedKey, iv string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrPasswordIncorrect
	}
	rawIV, err := base64.StdEncoding.DecodeString(iv)
	if err != nil || len(rawIV) != IVSize {
		return "", ErrPasswordIncorrect
	}
	plaintext, err := key.aead.Open(nil, rawIV, sealed, nil)
	if err != nil {
		return "", ErrPasswordIncorrect
	}
	return string(plaintext), nil
}

// GenerateSalt returns a fresh random 32-byte PBKDF2 salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("engine: failed to generate salt: %w", err)
	}
	return salt, nil
}

// HasAESNI returns true if the CPU has hardware AES acceleration. Advisory
// only; AES-GCM is used either way.
func HasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	default:
		return false
	}
}

func newGCM(raw []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create GCM: %w", err)
	}
	return aead, nil
}
