package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a request signature cannot be recovered.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestDigest is the message a caller signs to prove its identity:
//
//	METHOD \n PATH \n UNIX_TIMESTAMP \n 0x<keccak256(body)>
//
// It is signed as an EIP-191 personal message.
func RequestDigest(method, path string, unixTS int64, body []byte) []byte {
	msg := method + "\n" + path + "\n" + strconv.FormatInt(unixTS, 10) + "\n" +
		common.BytesToHash(ethcrypto.Keccak256(body)).Hex()
	return accounts.TextHash([]byte(msg))
}

// Signer signs API requests on behalf of one account.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps a private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signing account.
func (s *Signer) Address() common.Address { return s.address }

// SignRequest returns a 65-byte [R || S || V] signature with V in {27, 28},
// the form wallets produce for personal_sign.
func (s *Signer) SignRequest(method, path string, unixTS int64, body []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(RequestDigest(method, path, unixTS, body), s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverRequestSigner returns the account that produced sig over the
// request. V may be 0/1 or 27/28.
func RecoverRequestSigner(method, path string, unixTS int64, body, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	if s[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrBadSignature, sig[64])
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, unixTS, body), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
