package persistence

import (
	"testing"
	"time"

	"solana-copy-bot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) StateRepository {
	t.Helper()
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestLoadStateReturnsNilWhenEmpty(t *testing.T) {
	repo := newTestRepo(t)

	state, err := repo.LoadState()
	require.NoError(t, err)
	assert.Nil(t, state, "a fresh database has no state, and that is not an error")
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	saved := &models.BotState{
		BotID:         "solana-copy-bot",
		WatchedWallet: "SourceWa11et111111111111111111111111111111",
		Version:       models.StateVersion,
		Positions: []models.Position{
			{
				Mint:              "MemeMint111111111111111111111111111111111",
				Quantity:          1_000_000,
				Decimals:          6,
				EntryPrice:        decimal.RequireFromString("0.0000412"),
				BaseSpentLamports: 30_000_000,
				OpenedAt:          time.Now().UTC(),
				SourceSignature:   "sig1",
			},
		},
		ProcessedSignatures: []string{"sig1", "sig2"},
		ProcessedCount:      2,
		ExecutedTrades:      1,
		LastUpdateTime:      time.Now().UTC(),
	}
	require.NoError(t, repo.SaveState(saved))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, saved.WatchedWallet, loaded.WatchedWallet)
	assert.Equal(t, saved.ProcessedSignatures, loaded.ProcessedSignatures)
	assert.Equal(t, saved.ProcessedCount, loaded.ProcessedCount)
	assert.Equal(t, saved.ExecutedTrades, loaded.ExecutedTrades)
	require.Len(t, loaded.Positions, 1)
	assert.Equal(t, saved.Positions[0].Mint, loaded.Positions[0].Mint)
	assert.Equal(t, saved.Positions[0].Quantity, loaded.Positions[0].Quantity)
	assert.True(t, saved.Positions[0].EntryPrice.Equal(loaded.Positions[0].EntryPrice))
}

func TestSaveStateOverwritesPrevious(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveState(&models.BotState{ProcessedCount: 1}))
	require.NoError(t, repo.SaveState(&models.BotState{ProcessedCount: 7}))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(7), loaded.ProcessedCount)
}
