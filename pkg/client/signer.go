package client

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Signer holds the key an owner signs trades with.
type Signer struct {
	Key *ecdsa.PrivateKey
}

// NewSignerFromHex parses a hex-encoded secp256k1 private key (with or without 0x).
func NewSignerFromHex(hexKey string) (Signer, error) {
	if len(hexKey) > 1 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return Signer{}, errors.Wrap(err, "parse private key")
	}

	return Signer{Key: key}, nil
}

// Address returns the owner address derived from the key.
func (s Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.Key.PublicKey)
}
