// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package bridge

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

// encryptWithPassword seals plaintext the way encrypted key files are laid
// out: salt (8 bytes), nonce (12 bytes), AES-GCM ciphertext.
func encryptWithPassword(
	t *testing.T,
	password, plaintext []byte,
) []byte {
	t.Helper()

	salt := make([]byte, 8)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	key := pbkdf2.Key(password, salt, pbkdf2Iterations, pbkdf2KeyLength,
		sha3.New256)

	nonce := make([]byte, aesGCMNonceLength)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	encrypted := append(salt, nonce...)
	return append(encrypted, gcm.Seal(nil, nonce, plaintext, nil)...)
}

func TestDecryptPEMBlock(t *testing.T) {
	password := []byte("letmein")
	plaintext := []byte("thermostat")
	block := &pem.Block{
		Type:  "ENCRYPTED MESSAGE",
		Bytes: encryptWithPassword(t, password, plaintext),
	}

	t.Run("ValidDecryption", func(t *testing.T) {
		decrypted, err := decryptPEMBlock(block, password)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	})

	t.Run("NilPEMBlock", func(t *testing.T) {
		_, err := decryptPEMBlock(nil, password)
		require.Error(t, err)
	})

	t.Run("InvalidPassword", func(t *testing.T) {
		_, err := decryptPEMBlock(block, []byte("wrongpassword"))
		require.Error(t, err)
	})

	t.Run("TooShortCiphertext", func(t *testing.T) {
		short := &pem.Block{
			Type:  "ENCRYPTED MESSAGE",
			Bytes: block.Bytes[:19],
		}
		_, err := decryptPEMBlock(short, password)
		require.Error(t, err)
	})
}

// selfSignedCert generates a throwaway certificate and returns it PEM-encoded
// along with the DER bytes of its private key.
func selfSignedCert(t *testing.T) (certPEM, keyDER []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "bridge-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(
		rand.Reader, &template, &template, &key.PublicKey, key,
	)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err = x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return certPEM, keyDER
}

func TestLoadX509KeyPairWithPassword(t *testing.T) {
	password := []byte("orangery")
	certPEM, keyDER := selfSignedCert(t)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	passFile := filepath.Join(dir, "password")

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: encryptWithPassword(t, password, keyDER),
	})

	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(passFile, password, 0o600))

	cert, err := loadX509KeyPairWithPassword(certFile, keyFile, passFile)
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	t.Run("WrongPassword", func(t *testing.T) {
		require.NoError(t, os.WriteFile(passFile, []byte("wrong"), 0o600))
		_, err := loadX509KeyPairWithPassword(certFile, keyFile, passFile)
		require.Error(t, err)
	})

	t.Run("MissingKeyFile", func(t *testing.T) {
		_, err := loadX509KeyPairWithPassword(
			certFile, filepath.Join(dir, "missing"), passFile,
		)
		require.Error(t, err)
	})
}

func TestLoadCACertPool(t *testing.T) {
	certPEM, _ := selfSignedCert(t)

	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o600))

	pool, err := loadCACertPool(caFile)
	require.NoError(t, err)
	require.NotNil(t, pool)

	t.Run("NoCertificates", func(t *testing.T) {
		emptyFile := filepath.Join(dir, "empty.pem")
		require.NoError(t, os.WriteFile(emptyFile, []byte("junk"), 0o600))
		_, err := loadCACertPool(emptyFile)
		require.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := loadCACertPool(filepath.Join(dir, "missing.pem"))
		require.Error(t, err)
	})
}
