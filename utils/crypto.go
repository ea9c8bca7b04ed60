package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrDecryptionFailed means the authentication tag did not verify: the
// ciphertext was tampered with or the key is wrong. Callers must treat
// this differently from data that simply does not exist.
var ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

const keyLen = 32 // AES-256

// GenerateRoomKey returns a fresh 256-bit key, hex encoded for transport
// inside ROOM_JOINED and room-creation responses.
func GenerateRoomKey() (string, error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

func decodeKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("invalid encryption key: need %d bytes, got %d", keyLen, len(key))
	}
	return key, nil
}

// EncryptBytes seals plaintext with AES-256-GCM and returns the
// ciphertext, nonce and authentication tag separately, matching how
// encrypted files are stored (data plus sidecar artifacts).
func EncryptBytes(plaintext []byte, hexKey string) (ciphertext, nonce, tag []byte, err error) {
	key, err := decodeKey(hexKey)
	if err != nil {
		return nil, nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - gcm.Overhead()
	return sealed[:split], nonce, sealed[split:], nil
}

// DecryptBytes reverses EncryptBytes. A wrong key, a flipped bit in the
// ciphertext, or a mangled tag all surface as ErrDecryptionFailed.
func DecryptBytes(ciphertext, nonce, tag []byte, hexKey string) ([]byte, error) {
	key, err := decodeKey(hexKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptMessage seals a text message into the compact wire form
// "nonceHex:tagHex:cipherHex" used for chat in encrypted rooms.
func EncryptMessage(message, hexKey string) (string, error) {
	ciphertext, nonce, tag, err := EncryptBytes([]byte(message), hexKey)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptMessage reverses EncryptMessage.
func DecryptMessage(encrypted, hexKey string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 3)
	if len(parts) != 3 {
		return "", ErrDecryptionFailed
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", ErrDecryptionFailed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryptionFailed
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecryptionFailed
	}

	plaintext, err := DecryptBytes(ciphertext, nonce, tag, hexKey)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// ChecksumSHA256 returns the hex digest used as the integrity record for
// uploaded files.
func ChecksumSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
