package persistence

import "solana-copy-bot/internal/models"

// StateRepository defines the interface for state persistence. It abstracts
// the underlying storage so the engine can run against BadgerDB in production
// and an in-memory fake in tests. The persisted state is what lets a restart
// neither forget open positions nor re-copy already-processed signatures.
type StateRepository interface {
	// SaveState atomically saves the entire bot state.
	SaveState(state *models.BotState) error

	// LoadState loads the bot state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.BotState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
