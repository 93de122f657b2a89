package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/pnlledger/internal/domain"
)

func TestTradeStore_AppendAssignsSequentialIndexes(t *testing.T) {
	store := NewTradeStore()

	for i := 0; i < 3; i++ {
		index := store.Append(domain.TradeEvent{Owner: alice, Symbol: "ETH", Amount: d("1"), Price: d("1"), IsBuy: true})
		require.Equal(t, uint64(i), index)
	}
	require.Equal(t, uint64(3), store.Count())

	trade, err := store.Get(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), trade.Index)

	_, err = store.Get(3)
	require.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestPnLEngine_EmitDerivesNetAndCapital(t *testing.T) {
	engine := NewPnLEngine()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	record := engine.Emit(CloseInputs{
		Owner:            alice,
		Symbol:           "ETH",
		TradeIndex:       7,
		TotalBuyCost:     d("1000"),
		BuyAmount:        d("2"),
		BuyTimestamp:     ts,
		TotalSellRevenue: d("900"),
		SellAmount:       d("2"),
		SellTimestamp:    ts.Add(time.Hour),
	})

	assert.Equal(t, uint64(0), record.Index)
	assert.True(t, d("-100").Equal(record.NetProfitOrLoss))
	assert.True(t, d("1000").Equal(record.CapitalDeployed))
	assert.True(t, d("-10").Equal(record.ReturnPercent()))
	assert.Equal(t, uint64(7), record.TradeIndex)

	require.Equal(t, uint64(1), engine.Count())
	_, err := engine.Get(1)
	require.ErrorIs(t, err, domain.ErrOutOfRange)
}
