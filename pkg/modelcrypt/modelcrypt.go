package modelcrypt

// Package modelcrypt protects model material (eg the network definition) that ships with the SDK.
//
// The encrypted form is 1 byte of version, 20 bytes of salt, 24 bytes of nonce,
// followed by the NaCl secretbox. The secretbox key is scrypt(passphrase, salt).

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var ErrDecrypt = errors.New("Model decryption failed")

const version1 = 1
const saltSizeV1 = 20
const nonceSizeV1 = 24
const keySizeV1 = 32
const scryptNV1 = 16384
const scryptrV1 = 8
const scryptpV1 = 1
const headerLenV1 = 1 + saltSizeV1 + nonceSizeV1

func deriveKey(passphrase string, salt []byte) *[keySizeV1]byte {
	dk, err := scrypt.Key([]byte(passphrase), salt, scryptNV1, scryptrV1, scryptpV1, keySizeV1)
	if err != nil {
		panic(fmt.Sprintf("Error deriving model key: %v", err))
	}
	key := [keySizeV1]byte{}
	copy(key[:], dk)
	return &key
}

// Encrypt seals plain with a key derived from passphrase
func Encrypt(plain []byte, passphrase string) ([]byte, error) {
	header := [headerLenV1]byte{}
	header[0] = version1
	if _, err := rand.Read(header[1:]); err != nil {
		return nil, fmt.Errorf("Error creating salt and nonce: %w", err)
	}
	salt := header[1 : 1+saltSizeV1]
	nonce := [nonceSizeV1]byte{}
	copy(nonce[:], header[1+saltSizeV1:])
	return secretbox.Seal(header[:], plain, &nonce, deriveKey(passphrase, salt)), nil
}

// Decrypt opens the output of Encrypt.
// Any corruption, or the wrong passphrase, produces ErrDecrypt.
func Decrypt(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) < headerLenV1+secretbox.Overhead || sealed[0] != version1 {
		return nil, ErrDecrypt
	}
	salt := sealed[1 : 1+saltSizeV1]
	nonce := [nonceSizeV1]byte{}
	copy(nonce[:], sealed[1+saltSizeV1:headerLenV1])
	plain, ok := secretbox.Open(nil, sealed[headerLenV1:], &nonce, deriveKey(passphrase, salt))
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
