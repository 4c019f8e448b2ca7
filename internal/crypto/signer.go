package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

// Signer signs gateway request bodies with the identity key. The sender
// principal is derived from the DER public key the same way the Internet
// Computer derives self-authenticating principals.
type Signer struct {
	key       *ecdsa.PrivateKey
	der       []byte
	principal string
}

// NewSigner creates a Signer for a secp256k1 key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("crypto/signer: nil key")
	}
	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{Algorithm: oidECPublicKey, Parameters: oidSecp256k1},
		PublicKey: asn1.BitString{Bytes: ethcrypto.FromECDSAPub(&key.PublicKey), BitLength: 65 * 8},
	})
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: encode public key: %w", err)
	}
	return &Signer{key: key, der: der, principal: SelfAuthenticatingPrincipal(der)}, nil
}

// Principal returns the textual sender principal.
func (s *Signer) Principal() string { return s.principal }

// PublicKeyDER returns the DER-encoded SubjectPublicKeyInfo.
func (s *Signer) PublicKeyDER() []byte { return s.der }

// Sign returns the hex-encoded 65-byte [R || S || V] signature over
// keccak256(payload).
func (s *Signer) Sign(payload []byte) (string, error) {
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256(payload), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify checks a signature produced by Sign against this signer's key.
func (s *Signer) Verify(payload []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return false
	}
	pub := ethcrypto.FromECDSAPub(&s.key.PublicKey)
	return ethcrypto.VerifySignature(pub, ethcrypto.Keccak256(payload), sig[:64])
}

// SelfAuthenticatingPrincipal renders SHA-224(der) || 0x02 as principal
// text: base32 of crc32 || bytes, lower case, dash every five characters.
func SelfAuthenticatingPrincipal(der []byte) string {
	sum := sha256.Sum224(der)
	raw := append(sum[:], 0x02)
	return PrincipalText(raw)
}

// PrincipalText renders raw principal bytes in textual form.
func PrincipalText(raw []byte) string {
	buf := make([]byte, 4, 4+len(raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(raw))
	buf = append(buf, raw...)
	enc := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))

	var b strings.Builder
	for i, r := range enc {
		if i > 0 && i%5 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}
