// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package bridge

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const (
	// pbkdf2Iterations and pbkdf2KeyLength fix the key derivation for
	// encrypted key files; the salt is the first eight bytes of the block.
	pbkdf2Iterations = 10000
	pbkdf2KeyLength  = 32

	// aesGCMNonceLength is the standard 96-bit AES-GCM nonce size.
	aesGCMNonceLength = 12
)

// loadCACertPool loads a CA certificate pool from the specified PEM file.
func loadCACertPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("no CA certificates found in file")
	}
	return pool, nil
}

// decryptPEMBlock decrypts a PEM block using PBKDF2 and AES-GCM. The block
// layout is salt (8 bytes), nonce (12 bytes), ciphertext.
func decryptPEMBlock(block *pem.Block, password []byte) ([]byte, error) {
	if block == nil {
		return nil, errors.New("PEM block is nil")
	}
	if len(block.Bytes) < 8 {
		return nil, errors.New("PEM block is too short to carry a salt")
	}

	salt := block.Bytes[:8]
	key := pbkdf2.Key(password, salt, pbkdf2Iterations, pbkdf2KeyLength,
		sha3.New256)

	return aesGCMDecrypt(block.Bytes[8:], key)
}

// aesGCMDecrypt decrypts data using AES-GCM mode.
func aesGCMDecrypt(encrypted, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	if len(encrypted) < aesGCMNonceLength {
		return nil, errors.New("ciphertext in PEM block is too short")
	}
	nonce, ciphertext := encrypted[:aesGCMNonceLength],
		encrypted[aesGCMNonceLength:]

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// loadX509KeyPairWithPassword loads a key pair whose key file is encrypted;
// passFile holds the password.
//
// x509.DecryptPEMBlock is deprecated for insecurity and will not be extended,
// so the decryption is done here.
func loadX509KeyPairWithPassword(
	certFile,
	keyFile,
	passFile string,
) (tls.Certificate, error) {
	certPEMBlock, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyPEMBlock, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	password, err := os.ReadFile(passFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyDERBlock, _ := pem.Decode(keyPEMBlock)
	if keyDERBlock == nil {
		return tls.Certificate{}, errors.New(
			"failed to decode PEM block containing private key",
		)
	}

	decryptedDERBlock, err := decryptPEMBlock(keyDERBlock, password)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  keyDERBlock.Type,
		Bytes: decryptedDERBlock,
	})
	return tls.X509KeyPair(certPEMBlock, keyPEM)
}
