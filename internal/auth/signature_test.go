package auth

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestVerifyTrade_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	amount := decimal.RequireFromString("1.25")
	price := decimal.RequireFromString("2000")

	sig, err := SignTrade(key, "eth", amount, price, true, 3)
	require.NoError(t, err)

	require.NoError(t, VerifyTrade(owner, "ETH", amount, price, true, 3, sig))
	// 2000 and 2000.00 are the same price
	require.NoError(t, VerifyTrade(owner, "ETH", amount, decimal.RequireFromString("2000.00"), true, 3, sig))
}

func TestVerifyTrade_Rejects(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	amount := decimal.NewFromInt(1)
	price := decimal.NewFromInt(10)
	sig, err := SignTrade(key, "ETH", amount, price, true, 0)
	require.NoError(t, err)

	require.ErrorIs(t, VerifyTrade(owner, "ETH", amount, price, false, 0, sig), ErrInvalidSignature)
	require.ErrorIs(t, VerifyTrade(owner, "BTC", amount, price, true, 0, sig), ErrInvalidSignature)
	require.ErrorIs(t, VerifyTrade(crypto.PubkeyToAddress(other.PublicKey), "ETH", amount, price, true, 0, sig), ErrInvalidSignature)
	require.ErrorIs(t, VerifyTrade(owner, "ETH", amount, price, true, 1, sig), ErrInvalidSignature)
	require.ErrorIs(t, VerifyTrade(owner, "ETH", amount, price, true, 0, "0x1234"), ErrInvalidSignature)
	require.ErrorIs(t, VerifyTrade(owner, "ETH", amount, price, true, 0, "not-hex"), ErrInvalidSignature)
}
