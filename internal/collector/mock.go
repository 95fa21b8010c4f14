package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TrendSentinel/internal/model"
)

// MockProvider returns controllable fixed data for development and testing.
type MockProvider struct {
	ProviderName string
	Price        float64
	Bars         map[string][]model.Bar
	Errors       map[string]error
	Symbols      []model.SymbolEntry
	ListErr      error

	mu    sync.Mutex
	calls map[string]int
}

// NewMockProvider creates a mock with generated bars around price.
func NewMockProvider(name string, price float64) *MockProvider {
	return &MockProvider{
		ProviderName: name,
		Price:        price,
		Bars:         make(map[string][]model.Bar),
		Errors:       make(map[string]error),
	}
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) FetchOHLCV(ctx context.Context, symbol string, limit int) ([]model.Bar, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[symbol]++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := m.Errors[symbol]; ok {
		return nil, err
	}
	if bars, ok := m.Bars[symbol]; ok {
		return bars, nil
	}
	if m.Price <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return GenerateBars(m.Price, limit, time.Now()), nil
}

func (m *MockProvider) ListSymbols(ctx context.Context) ([]model.SymbolEntry, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Symbols, nil
}

// Calls reports how often symbol was fetched.
func (m *MockProvider) Calls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[symbol]
}

// GenerateBars builds count closed daily bars ending the day before now,
// drifting gently upward around basePrice.
func GenerateBars(basePrice float64, count int, now time.Time) []model.Bar {
	bars := make([]model.Bar, count)
	today := DayStart(now)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.Bar{
			Time:   today.AddDate(0, 0, -(count - i)),
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		}
	}
	return bars
}
