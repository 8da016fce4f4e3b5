package encryption

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

const (
	// DefaultProofIDWidth is the number of hex characters after the 0x prefix.
	DefaultProofIDWidth = 64

	// EthrDIDPrefix marks identities whose method-specific id is an Ethereum address.
	EthrDIDPrefix = "did:ethr:"
)

var (
	ErrInvalidSignature = errors.New("invalid signature encoding")
	ErrNotEthrDID       = errors.New("voter identity is not an ethr address")
)

type CryptoService struct {
	idWidth int
}

func NewCryptoService(idWidth int) *CryptoService {
	if idWidth <= 0 {
		idWidth = DefaultProofIDWidth
	}
	return &CryptoService{idWidth: idWidth}
}

// IDWidth returns the hex width of derived proof identifiers.
func (cs *CryptoService) IDWidth() int {
	return cs.idWidth
}

// ProofID derives the identifier a proof must carry for the given voter, timestamp and
// vote content. Each field is prefixed with its 8-byte big-endian length.
func (cs *CryptoService) ProofID(voterDID string, timestamp int64, voteContent string) string {
	digest := cs.Keccak256(
		lengthPrefixed([]byte(voterDID)),
		lengthPrefixed([]byte(strconv.FormatInt(timestamp, 10))),
		lengthPrefixed([]byte(voteContent)),
	)
	if cs.idWidth == DefaultProofIDWidth {
		return hexutil.Encode(digest)
	}

	// Widths other than 32 bytes repeat the digest and cut it to size.
	encoded := hex.EncodeToString(digest)
	if cs.idWidth > len(encoded) {
		encoded = strings.Repeat(encoded, cs.idWidth/len(encoded)+1)
	}
	return "0x" + encoded[:cs.idWidth]
}

func lengthPrefixed(field []byte) []byte {
	out := make([]byte, 8, 8+len(field))
	binary.BigEndian.PutUint64(out, uint64(len(field)))
	return append(out, field...)
}

// GenerateKeyPair generates a new secp256k1 key pair
func (cs *CryptoService) GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// Sign creates a digital signature of data using private key
func (cs *CryptoService) Sign(data []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	hash := cs.Keccak256(data)
	return crypto.Sign(hash, privateKey)
}

// SignProof signs a proof identifier and returns the hex encoded signature blob.
func (cs *CryptoService) SignProof(proofID string, privateKey *ecdsa.PrivateKey) (string, error) {
	sig, err := cs.Sign([]byte(proofID), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign proof: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// RecoverSigner returns the address that produced signature over proofID.
func (cs *CryptoService) RecoverSigner(proofID, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(cs.Keccak256([]byte(proofID)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyProofSignature checks that an ethr voter identity signed proofID.
func (cs *CryptoService) VerifyProofSignature(voterDID, proofID, signature string) error {
	want, err := AddressFromDID(voterDID)
	if err != nil {
		return err
	}
	got, err := cs.RecoverSigner(proofID, signature)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("signer %s does not match %s", got.Hex(), want.Hex())
	}
	return nil
}

// AddressFromDID extracts the address from a did:ethr identity.
func AddressFromDID(voterDID string) (common.Address, error) {
	if !strings.HasPrefix(voterDID, EthrDIDPrefix) {
		return common.Address{}, ErrNotEthrDID
	}
	addr := strings.TrimPrefix(voterDID, EthrDIDPrefix)
	if !common.IsHexAddress(addr) {
		return common.Address{}, ErrNotEthrDID
	}
	return common.HexToAddress(addr), nil
}

// DIDFromKey returns the did:ethr identity controlled by privateKey.
func DIDFromKey(privateKey *ecdsa.PrivateKey) string {
	return EthrDIDPrefix + crypto.PubkeyToAddress(privateKey.PublicKey).Hex()
}

// EncodePrivateKey returns the 0x prefixed hex form accepted by ParsePrivateKey.
func EncodePrivateKey(privateKey *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSA(privateKey))
}

// Keccak256 computes Keccak-256 hash
func (cs *CryptoService) Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// ParsePrivateKey decodes a hex private key, with or without the 0x prefix.
func ParsePrivateKey(keyStr string) (*ecdsa.PrivateKey, error) {
	keyStr = strings.TrimPrefix(keyStr, "0x")

	keyBytes, err := hex.DecodeString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key hex string: %w", err)
	}

	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}
