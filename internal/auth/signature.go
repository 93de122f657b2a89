// Package auth verifies that a trade submission was signed by its owner.
package auth

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/pnlledger/internal/domain"
)

// ErrInvalidSignature is returned when a signature is malformed or was not
// produced by the claimed owner.
var ErrInvalidSignature = errors.New("invalid signature")

const signatureLength = 65

// TradeMessage is the canonical text an owner signs (EIP-191 personal_sign)
// to submit a trade. nonce is the owner's next trade sequence number.
func TradeMessage(owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool, nonce uint64) string {
	action := domain.ActionSell
	if isBuy {
		action = domain.ActionBuy
	}

	return fmt.Sprintf("pnlledger trade\nowner: %s\nsymbol: %s\naction: %s\namount: %s\nprice: %s\nnonce: %d",
		owner.Hex(), strings.ToUpper(strings.TrimSpace(symbol)), action, amount.String(), price.StringFixed(domain.PricePrecision), nonce)
}

// VerifyTrade checks that signatureHex signs TradeMessage for owner. It does
// not check that nonce is still unused.
func VerifyTrade(owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool, nonce uint64, signatureHex string) error {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, "signature is not 0x-prefixed hex")
	}
	if len(sig) != signatureLength {
		return errors.Wrapf(ErrInvalidSignature, "signature must be %d bytes, got %d", signatureLength, len(sig))
	}

	// wallets produce V in {27, 28}, crypto.SigToPub expects {0, 1}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(TradeMessage(owner, symbol, amount, price, isBuy, nonce)))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}

	if recovered := crypto.PubkeyToAddress(*pub); recovered != owner {
		return errors.Wrapf(ErrInvalidSignature, "signed by %s, not %s", recovered.Hex(), owner.Hex())
	}

	return nil
}

// SignTrade produces a wallet-style signature (V in {27, 28}) over TradeMessage.
func SignTrade(key *ecdsa.PrivateKey, symbol string, amount, price decimal.Decimal, isBuy bool, nonce uint64) (string, error) {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	hash := accounts.TextHash([]byte(TradeMessage(owner, symbol, amount, price, isBuy, nonce)))

	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", errors.Wrap(err, "sign trade")
	}
	sig[crypto.RecoveryIDOffset] += 27

	return hexutil.Encode(sig), nil
}
