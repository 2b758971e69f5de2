package export

import (
	"context"
	"fmt"
	"sync"
)

// MemoryWriter collects settlement records in memory. It backs tests and
// deployments that run without Google credentials.
type MemoryWriter struct {
	mu      sync.Mutex
	records []SettlementRecord
}

var _ HistoryWriter = (*MemoryWriter)(nil)

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// AppendSettlement stores the record and returns a synthetic row reference.
func (m *MemoryWriter) AppendSettlement(_ context.Context, rec SettlementRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return fmt.Sprintf("mem:%d", len(m.records)), nil
}

// Records returns a copy of everything appended so far.
func (m *MemoryWriter) Records() []SettlementRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SettlementRecord(nil), m.records...)
}
