package storage

import (
	"context"
	"sync"

	"autobump/internal/domain"
)

// Memory is a process-local DataStore. Saves copy the input, loads return copies.
type Memory struct {
	mu       sync.Mutex
	accounts []domain.Account
	channels []domain.Channel

	// FailSaves makes every Save return the given error (tests).
	FailSaves error
	// Saves counts successful Save calls.
	Saves int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadAccounts(context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Account{}, m.accounts...), nil
}

func (m *Memory) SaveAccounts(_ context.Context, accounts []domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.accounts = append([]domain.Account{}, accounts...)
	m.Saves++
	return nil
}

func (m *Memory) LoadChannels(context.Context) ([]domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Channel{}, m.channels...), nil
}

func (m *Memory) SaveChannels(_ context.Context, channels []domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.channels = append([]domain.Channel{}, channels...)
	m.Saves++
	return nil
}

func (m *Memory) Close() error { return nil }
