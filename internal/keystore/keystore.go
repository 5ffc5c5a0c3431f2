// Package keystore manages the host's persisted RSA key pair used to
// authenticate with ADB-capable devices (spec §4.3, §6). The private key is
// stored as PEM, the public key in the upstream adb tool's own base64
// format so existing device allowlists (adb_keys) keep trusting it.
package keystore

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"path/filepath"

	"github.com/shangdawei/go-adb-client/internal/adberr"
)

const (
	keyBits = 2048

	privateKeyFile = "adbkey"
	publicKeyFile  = "adbkey.pub"

	// ADB's public key blob uses 32-bit little-endian limbs.
	rsaModulusLimbs = keyBits / 32
	rsaPublicExp    = 65537
)

// KeyStore owns one persisted 2048-bit RSA key pair.
type KeyStore struct {
	dir string
	key *rsa.PrivateKey
}

// Open loads the key pair from dir, generating and persisting a fresh one on
// first use. Concurrent first-runs are serialized by publishing adbkey with
// os.Link, which fails if the file already exists, so only one generated
// key is ever kept and the loser loads the winner's (spec §5).
func Open(dir string) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, adberr.Wrap(adberr.KindIOError, "failed to create key directory", err)
	}

	ks := &KeyStore{dir: dir}
	privPath := filepath.Join(dir, privateKeyFile)

	key, err := loadPrivateKey(privPath)
	if err == nil {
		ks.key = key
		log.Printf("keystore: loaded existing key from %s", privPath)
		return ks, nil
	}
	if !os.IsNotExist(err) {
		return nil, adberr.Wrap(adberr.KindIOError, "failed to read private key", err)
	}

	key, err = generateAndPersist(dir)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost the race to create adbkey first; load the winner's key.
			key, err = loadPrivateKey(privPath)
			if err != nil {
				return nil, adberr.Wrap(adberr.KindIOError, "failed to load concurrently-generated key", err)
			}
			ks.key = key
			return ks, nil
		}
		return nil, err
	}
	ks.key = key
	return ks, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, adberr.New(adberr.KindIOError, "adbkey is not valid PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, adberr.Wrap(adberr.KindIOError, "failed to parse adbkey", err)
	}
	return key, nil
}

// generateAndPersist creates a fresh key pair and atomically writes both
// halves with the permissions spec §6 requires (private 0600, public 0644).
func generateAndPersist(dir string) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, adberr.Wrap(adberr.KindIOError, "failed to generate RSA key", err)
	}

	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	pemBlock := &pem.Block{Type: "PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	privBytes := pem.EncodeToMemory(pemBlock)

	if err := writeAtomicExclusive(privPath, privBytes, 0o600); err != nil {
		return nil, err
	}

	pubBlob, err := PublicKeyBlob(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(pubPath, pubBlob, 0o644); err != nil {
		return nil, err
	}

	log.Printf("keystore: generated new key pair in %s", dir)
	return key, nil
}

// writeAtomicExclusive writes to a uniquely-named temp file then links it
// into place only if no file already exists at path, failing with
// os.ErrExist if another process won the race (spec §5's file-creation
// locking requirement).
func writeAtomicExclusive(path string, data []byte, mode os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return adberr.Wrap(adberr.KindIOError, "failed to create temp key file", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return adberr.Wrap(adberr.KindIOError, "failed to write temp key file", err)
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		return adberr.Wrap(adberr.KindIOError, "failed to chmod temp key file", err)
	}
	if err := f.Close(); err != nil {
		return adberr.Wrap(adberr.KindIOError, "failed to close temp key file", err)
	}

	if err := os.Link(tmp, path); err != nil {
		return adberr.Wrap(adberr.KindIOError, "failed to publish key file", err)
	}
	return nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return adberr.Wrap(adberr.KindIOError, "failed to write temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return adberr.Wrap(adberr.KindIOError, "failed to rename into place", err)
	}
	return nil
}

// PublicKey returns the RSA public half of the store's key pair.
func (ks *KeyStore) PublicKey() *rsa.PublicKey {
	return &ks.key.PublicKey
}

// Sign signs a 20-byte AUTH token with PKCS#1 v1.5 / SHA-1, as the ADB
// protocol's AUTH SIGNATURE step requires (spec §4.3, §4.4). The token
// itself is already the 20-byte quantity the device expects signed as a
// SHA-1 digest, so it's passed straight to SignPKCS1v15 rather than hashed
// again.
func (ks *KeyStore) Sign(token []byte) ([]byte, error) {
	if len(token) != sha1.Size {
		return nil, adberr.New(adberr.KindProtocolError, fmt.Sprintf("auth token must be %d bytes, got %d", sha1.Size, len(token)))
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, ks.key, crypto.SHA1, token)
	if err != nil {
		return nil, adberr.Wrap(adberr.KindIOError, "failed to sign auth token", err)
	}
	return sig, nil
}

// PublicKeyBlob returns the ADB-format public key as it belongs in
// adbkey.pub (spec §3, §6): base64 of {modulus limbs, n0inv, rr, exponent}
// followed by a user@host comment and a trailing newline, byte-compatible
// with the upstream `adb pubkey` encoding so existing device allowlists
// keep trusting it.
func PublicKeyBlob(pub *rsa.PublicKey) ([]byte, error) {
	line, err := encodePublicKeyLine(pub)
	if err != nil {
		return nil, err
	}
	return []byte(line + "\n"), nil
}

// PublicKeyWireBlob returns the same encoding as PublicKeyBlob, but
// null-terminated instead of newline-terminated: the AUTH(RSAPUBLICKEY)
// wire payload is a C string, per spec §4.4/§8 scenario 2, not a line of
// a file.
func PublicKeyWireBlob(pub *rsa.PublicKey) ([]byte, error) {
	line, err := encodePublicKeyLine(pub)
	if err != nil {
		return nil, err
	}
	return []byte(line + "\x00"), nil
}

// encodePublicKeyLine builds the shared "<base64> <user>@<host>" body both
// PublicKeyBlob and PublicKeyWireBlob terminate differently.
func encodePublicKeyLine(pub *rsa.PublicKey) (string, error) {
	if pub.N.BitLen() != keyBits {
		return "", adberr.New(adberr.KindIOError, fmt.Sprintf("unsupported key size %d", pub.N.BitLen()))
	}

	n0inv := montgomeryN0Inv(pub.N)
	rr := montgomeryRRModN(pub.N)

	buf := make([]byte, 0, 4+4+rsaModulusLimbs*4+rsaModulusLimbs*4+4)

	put32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}

	put32(uint32(rsaModulusLimbs))
	put32(n0inv)
	buf = append(buf, limbsLE(pub.N, rsaModulusLimbs)...)
	buf = append(buf, limbsLE(rr, rsaModulusLimbs)...)
	put32(uint32(pub.E))

	encoded := base64.StdEncoding.EncodeToString(buf)

	user := os.Getenv("USER")
	if user == "" {
		user = "adb"
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}

	return fmt.Sprintf("%s %s@%s", encoded, user, host), nil
}

// limbsLE encodes v as n little-endian 32-bit limbs, least-significant word
// first (the representation adb's mincrypt RSAPublicKey struct expects).
func limbsLE(v *big.Int, n int) []byte {
	out := make([]byte, n*4)
	bytesLE := v.Bytes() // big-endian from big.Int
	// reverse into little-endian byte order
	for i, j := 0, len(bytesLE)-1; j >= 0 && i < len(out); i, j = i+1, j-1 {
		out[i] = bytesLE[j]
	}
	return out
}

// montgomeryN0Inv computes -N^-1 mod 2^32, the Montgomery reduction constant
// adb's RSA verifier embeds alongside the modulus.
func montgomeryN0Inv(n *big.Int) uint32 {
	base := new(big.Int).Lsh(big.NewInt(1), 32)
	n0 := new(big.Int).Mod(n, base)
	inv := new(big.Int).ModInverse(n0, base)
	if inv == nil {
		return 0
	}
	neg := new(big.Int).Sub(base, inv)
	neg.Mod(neg, base)
	return uint32(neg.Uint64())
}

// montgomeryRRModN computes R^2 mod N for R = 2^(32*rsaModulusLimbs), the
// second Montgomery constant adb's public key blob carries.
func montgomeryRRModN(n *big.Int) *big.Int {
	r := new(big.Int).Lsh(big.NewInt(1), uint(32*rsaModulusLimbs))
	rr := new(big.Int).Mul(r, r)
	rr.Mod(rr, n)
	return rr
}
