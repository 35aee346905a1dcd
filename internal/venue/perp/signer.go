package perp

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer authorizes venue actions with the maker's secp256k1 key. The
// venue verifies a keccak digest over the canonical action bytes, the
// nonce, and a domain tag.
type Signer struct {
	privKey *ecdsa.PrivateKey
	address common.Address
	domain  string
}

func NewSigner(hexKey, domain string) (*Signer, error) {
	clean := strings.TrimSpace(strings.TrimPrefix(hexKey, "0x"))
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	if domain == "" {
		domain = "option-scalp"
	}
	return &Signer{
		privKey: key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		domain:  domain,
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// SignAction signs canonical action bytes bound to a nonce.
func (s *Signer) SignAction(action []byte, nonce uint64) (Signature, error) {
	digest := actionDigest(s.domain, action, nonce)
	sig, err := crypto.Sign(digest, s.privKey)
	if err != nil {
		return Signature{}, err
	}
	return signatureFromBytes(sig)
}

func actionDigest(domain string, action []byte, nonce uint64) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x19")
	buf.WriteString(domain)
	buf.WriteString("\n")
	buf.Write(action)
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	buf.Write(nonceBytes[:])
	return crypto.Keccak256(buf.Bytes())
}

func signatureFromBytes(sig []byte) (Signature, error) {
	if len(sig) != 65 {
		return Signature{}, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}
