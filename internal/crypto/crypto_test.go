package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(key))

	blob, err := EncryptKey("0x"+keyHex, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), keyHex)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, keyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")

	_, err = EncryptKey("abcd", "pw")
	assert.ErrorContains(t, err, "expected 32-byte key")
	_, err = EncryptKey(keyHex, "")
	assert.Error(t, err)
}

func writePEM(t *testing.T, dir string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, "identity.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "EC PARAMETERS", Bytes: []byte{0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x0a}})
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})...)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadIdentitySources(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	raw := ethcrypto.FromECDSA(key)
	dir := t.TempDir()

	der, err := asn1.Marshal(sec1Key{Version: 1, PrivateKey: raw, Params: oidSecp256k1})
	require.NoError(t, err)
	pemPath := writePEM(t, dir, der)

	blob, err := EncryptKey(hex.EncodeToString(raw), "pw")
	require.NoError(t, err)
	encPath := filepath.Join(dir, "key.json")
	require.NoError(t, os.WriteFile(encPath, blob, 0o600))

	for name, cfg := range map[string]IdentityConfig{
		"raw":       {RawPrivateKey: "0x" + hex.EncodeToString(raw), PEMPath: "/does/not/exist"},
		"encrypted": {EncryptedKeyPath: encPath, KeyPassword: "pw"},
		"pem":       {PEMPath: pemPath},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := LoadIdentity(cfg)
			require.NoError(t, err)
			assert.Equal(t, 0, key.D.Cmp(got.D))
		})
	}

	_, err = LoadIdentity(IdentityConfig{})
	assert.ErrorContains(t, err, "no identity source")
}

func TestParsePEMRejectsOtherCurves(t *testing.T) {
	der, err := asn1.Marshal(sec1Key{
		Version:    1,
		PrivateKey: make([]byte, 32),
		Params:     asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}, // P-256
	})
	require.NoError(t, err)
	_, err = ParsePEM(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
	assert.ErrorContains(t, err, "unsupported curve")

	_, err = ParsePEM([]byte("not a pem"))
	assert.Error(t, err)
}

func TestPrincipalText(t *testing.T) {
	assert.Equal(t, "2vxsx-fae", PrincipalText([]byte{0x04}))
	assert.Equal(t, "aaaaa-aa", PrincipalText(nil))
}

func TestSignerSignAndVerify(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewSigner(key)
	require.NoError(t, err)

	// Self-authenticating principals are 29 bytes: 63 chars with dashes.
	assert.Len(t, s.Principal(), 63)
	assert.Equal(t, byte(0x30), s.PublicKeyDER()[0])

	body := []byte(`{"method":"swap"}`)
	sig, err := s.Sign(body)
	require.NoError(t, err)
	assert.Len(t, sig, 130)
	assert.True(t, s.Verify(body, sig))
	assert.False(t, s.Verify([]byte(`{"method":"swap2"}`), sig))
	assert.False(t, s.Verify(body, "zz"))

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s2, err := NewSigner(other)
	require.NoError(t, err)
	assert.NotEqual(t, s.Principal(), s2.Principal())
}

func TestHMACHeaders(t *testing.T) {
	h := &HMACAuth{Key: "key-1", Secret: "s3cret"}
	require.True(t, h.Enabled())
	assert.False(t, (&HMACAuth{}).Enabled())

	got := h.HeadersAt("POST", "/api/v2/update", []byte(`{"a":1}`), 1_700_000_000)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(`1700000000POST/api/v2/update{"a":1}`))
	assert.Equal(t, "key-1", got[HeaderAPIKey])
	assert.Equal(t, "1700000000", got[HeaderAPITimestamp])
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), got[HeaderAPISignature])
	assert.Equal(t, "HMACAuth{key=key-****, secret=s3cr****}", h.String())
}
