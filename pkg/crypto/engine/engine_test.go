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

package engine

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncryptDecryptRoundTrip verifies content encryption round-trips for a
// range of plaintexts, including empty and multi-byte Unicode.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	plaintexts := []string{
		"hello world",
		"",
		"with\nnewlines\tand tabs",
		"unicode: héllo wörld 你好世界 🔐",
		strings.Repeat("long message ", 1000),
	}

	for _, plaintext := range plaintexts {
		encrypted, err := EncryptContent(plaintext, key)
		require.NoError(t, err)
		assert.Equal(t, "AES-GCM", encrypted.Algorithm)
		assert.Equal(t, key.Fingerprint(), encrypted.KeyFingerprint)

		decrypted, err := DecryptContent(encrypted, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

// TestDecryptWithWrongKey verifies a wrong key is detected by the fingerprint
// check and surfaces as ErrKeyMismatch, never as garbage text.
func TestDecryptWithWrongKey(t *testing.T) {
	key1, err := GenerateContentKey()
	require.NoError(t, err)
	key2, err := GenerateContentKey()
	require.NoError(t, err)

	encrypted, err := EncryptContent("secret message", key1)
	require.NoError(t, err)

	_, err = DecryptContent(encrypted, key2)
	require.ErrorIs(t, err, ErrKeyMismatch)
}

// TestDecryptCorruptedCiphertext verifies a tampered ciphertext with the
// correct key surfaces as ErrDecryptionFailed, distinct from a key mismatch.
func TestDecryptCorruptedCiphertext(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	encrypted, err := EncryptContent("secret message", key)
	require.NoError(t, err)

	encrypted.EncryptedContent = "Y29ycnVwdGVkIGNpcGhlcnRleHQ="
	_, err = DecryptContent(encrypted, key)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptInvalidIV(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	encrypted, err := EncryptContent("secret message", key)
	require.NoError(t, err)

	encrypted.IV = "dG9vc2hvcnQ="
	_, err = DecryptContent(encrypted, key)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

// TestIVUniqueness verifies two encryptions of the same plaintext with the
// same key never produce the same IV or ciphertext.
func TestIVUniqueness(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	first, err := EncryptContent("same plaintext", key)
	require.NoError(t, err)
	second, err := EncryptContent("same plaintext", key)
	require.NoError(t, err)

	assert.NotEqual(t, first.IV, second.IV, "IV must be fresh per encryption")
	assert.NotEqual(t, first.EncryptedContent, second.EncryptedContent)
}

// TestWrapUnwrapRoundTrip verifies a wrapped content key unwraps to a key
// that decrypts anything the original encrypted.
func TestWrapUnwrapRoundTrip(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)
	contentKey, err := GenerateContentKey()
	require.NoError(t, err)

	encrypted, err := EncryptContent("wrapped key round trip", contentKey)
	require.NoError(t, err)

	wrapped, err := WrapKeyForRecipient(contentKey, keyPair.PublicKey)
	require.NoError(t, err)
	assert.NotEmpty(t, wrapped)

	unwrapped, err := UnwrapKeyFromSender(wrapped, keyPair.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, contentKey.Fingerprint(), unwrapped.Fingerprint())

	decrypted, err := DecryptContent(encrypted, unwrapped)
	require.NoError(t, err)
	assert.Equal(t, "wrapped key round trip", decrypted)
}

// TestUnwrapWithWrongPrivateKey verifies unwrapping with the wrong private
// key fails rather than yielding a usable key.
func TestUnwrapWithWrongPrivateKey(t *testing.T) {
	keyPair1, err := GenerateKeyPair()
	require.NoError(t, err)
	keyPair2, err := GenerateKeyPair()
	require.NoError(t, err)

	contentKey, err := GenerateContentKey()
	require.NoError(t, err)

	wrapped, err := WrapKeyForRecipient(contentKey, keyPair1.PublicKey)
	require.NoError(t, err)

	_, err = UnwrapKeyFromSender(wrapped, keyPair2.PrivateKey)
	require.Error(t, err)
}

func TestExportImportPublicKey(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	exported, err := ExportPublicKey(keyPair.PublicKey)
	require.NoError(t, err)
	assert.NotEmpty(t, exported)

	imported, err := ImportPublicKey(exported)
	require.NoError(t, err)
	assert.True(t, keyPair.PublicKey.Equal(imported))
}

func TestImportPublicKeyMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "!!not-base64!!"},
		{"base64 but not SPKI", "aGVsbG8gd29ybGQ="},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportPublicKey(tt.input)
			require.ErrorIs(t, err, ErrMalformedKey)
		})
	}
}

func TestExportImportPrivateKey(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	exported, err := ExportPrivateKey(keyPair.PrivateKey)
	require.NoError(t, err)

	imported, err := ImportPrivateKey(exported)
	require.NoError(t, err)
	assert.True(t, keyPair.PrivateKey.Equal(imported))
}

// TestPublicKeyFingerprintFormat verifies the fingerprint is stable across
// calls, differs across keys, and always matches "XXXX XXXX XXXX XXXX".
func TestPublicKeyFingerprintFormat(t *testing.T) {
	keyPair1, err := GenerateKeyPair()
	require.NoError(t, err)
	keyPair2, err := GenerateKeyPair()
	require.NoError(t, err)

	fp1a, err := PublicKeyFingerprint(keyPair1.PublicKey)
	require.NoError(t, err)
	fp1b, err := PublicKeyFingerprint(keyPair1.PublicKey)
	require.NoError(t, err)
	fp2, err := PublicKeyFingerprint(keyPair2.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, fp1a, fp1b, "fingerprint must be deterministic")
	assert.NotEqual(t, fp1a, fp2, "fingerprints of distinct keys must differ")

	format := regexp.MustCompile(`^[0-9A-F]{4} [0-9A-F]{4} [0-9A-F]{4} [0-9A-F]{4}$`)
	assert.Regexp(t, format, fp1a)
	assert.Regexp(t, format, fp2)
}

func TestContentKeyFingerprintDeterminism(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)
	other, err := GenerateContentKey()
	require.NoError(t, err)

	assert.Equal(t, key.Fingerprint(), key.Fingerprint())
	assert.NotEqual(t, key.Fingerprint(), other.Fingerprint())
	assert.Len(t, key.Fingerprint(), 16)
}

// TestDerivedKeyRoundTrip verifies password-derived encryption round-trips
// with the same password and salt.
func TestDerivedKeyRoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	require.Len(t, salt, SaltSize)

	key, err := DeriveKeyFromPassword("correct-horse-battery", salt, BackupIterations)
	require.NoError(t, err)

	ciphertext, iv, err := EncryptWithDerivedKey("secret data", key)
	require.NoError(t, err)

	sameKey, err := DeriveKeyFromPassword("correct-horse-battery", salt, BackupIterations)
	require.NoError(t, err)

	plaintext, err := DecryptWithDerivedKey(ciphertext, sameKey, iv)
	require.NoError(t, err)
	assert.Equal(t, "secret data", plaintext)
}

// TestDerivedKeyWrongPassword verifies decrypting with a key derived from a
// different password raises the password-specific error.
func TestDerivedKeyWrongPassword(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	key1, err := DeriveKeyFromPassword("pw1", salt, BackupIterations)
	require.NoError(t, err)
	key2, err := DeriveKeyFromPassword("pw2", salt, BackupIterations)
	require.NoError(t, err)

	ciphertext, iv, err := EncryptWithDerivedKey("secret data", key1)
	require.NoError(t, err)

	_, err = DecryptWithDerivedKey(ciphertext, key2, iv)
	require.ErrorIs(t, err, ErrPasswordIncorrect)
}

func TestDeriveKeyValidation(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	_, err = DeriveKeyFromPassword("", salt, BackupIterations)
	require.ErrorIs(t, err, ErrEmptyPassword)

	_, err = DeriveKeyFromPassword("password", []byte("short"), BackupIterations)
	require.ErrorIs(t, err, ErrInvalidSalt)

	_, err = DeriveKeyFromPassword("password", salt, 1000)
	require.ErrorIs(t, err, ErrInvalidIterations)
}

func TestGenerateSaltUniqueness(t *testing.T) {
	salt1, err := GenerateSalt()
	require.NoError(t, err)
	salt2, err := GenerateSalt()
	require.NoError(t, err)
	assert.NotEqual(t, salt1, salt2)
}
