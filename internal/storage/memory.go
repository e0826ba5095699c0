package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// MemoryWriter is a TableWriter that keeps written tables in memory, for tests.
type MemoryWriter struct {
	mu     sync.RWMutex
	tables map[string]*AssembledTable
	order  []string
	writes int
	closed bool
}

// NewMemoryWriter creates a new in-memory writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{
		tables: make(map[string]*AssembledTable),
	}
}

func memoryPath(symbol, interval string) string {
	return "memory://" + models.OutputFileName(strings.ToUpper(symbol), interval, FileExtension)
}

// Write implements TableWriter. A second write for the same symbol and interval
// replaces the first.
func (m *MemoryWriter) Write(ctx context.Context, table *AssembledTable) (string, error) {
	if table == nil || table.Len() == 0 {
		return "", ErrEmptyAssembly
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", NewStorageError("write", "", "", fmt.Errorf("writer is closed"))
	}

	path := memoryPath(table.Symbol, table.Stem())
	if _, exists := m.tables[path]; !exists {
		m.order = append(m.order, path)
	}

	stored := *table
	stored.Records = append([]models.Kline(nil), table.Records...)
	m.tables[path] = &stored
	m.writes++

	return path, nil
}

// Table returns the last table written for symbol and interval stem.
func (m *MemoryWriter) Table(symbol, interval string) (*AssembledTable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[memoryPath(symbol, interval)]
	return t, ok
}

// Paths returns the paths of written tables in first-write order.
func (m *MemoryWriter) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Writes returns how many times Write succeeded.
func (m *MemoryWriter) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close implements TableWriter.
func (m *MemoryWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
