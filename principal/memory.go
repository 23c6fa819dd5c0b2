package principal

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var knownFields = map[string]struct{}{
	FieldKind: {}, FieldEnabled: {}, FieldPasswordHash: {}, FieldUsername: {},
	FieldMobileNo: {}, FieldEmail: {}, FieldFirstName: {}, FieldLastName: {},
	FieldUserImage: {}, FieldRestrictIP: {}, FieldLoginBefore: {}, FieldLoginAfter: {},
	FieldSimultaneousSessions: {}, FieldOTPSecret: {}, FieldLastLogin: {}, FieldLastIP: {},
}

// KnownField reports whether name is a supported repository field.
func KnownField(name string) bool {
	_, ok := knownFields[name]
	return ok
}

// MemoryRepository is an in-process Repository used by dev mode and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]Fields
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Fields)}
}

// Put inserts or replaces a principal.
func (m *MemoryRepository) Put(id string, f Fields) {
	cp := make(Fields, len(f))
	for k, v := range f {
		cp[k] = v
	}
	m.mu.Lock()
	m.rows[id] = cp
	m.mu.Unlock()
}

// GetFields implements Repository.
func (m *MemoryRepository) GetFields(_ context.Context, id string, fields ...string) (Fields, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(Fields, len(fields))
	for _, f := range fields {
		if !KnownField(f) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
		}
		out[f] = row[f]
	}
	return out, nil
}

// Exists implements Repository.
func (m *MemoryRepository) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	_, ok := m.rows[id]
	m.mu.RUnlock()
	return ok, nil
}

// SetField implements Repository.
func (m *MemoryRepository) SetField(_ context.Context, id, field, value string) error {
	if !KnownField(field) {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	row[field] = value
	return nil
}

// FindBy implements Repository.
func (m *MemoryRepository) FindBy(_ context.Context, field, value string) (string, bool, error) {
	if !KnownField(field) {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if value == "" {
		return "", false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m.rows[id][field] == value {
			return id, true, nil
		}
	}
	return "", false, nil
}

// CountEnabledSystemUsers implements SystemUserCounter. Administrator is not
// counted.
func (m *MemoryRepository) CountEnabledSystemUsers(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for id, row := range m.rows {
		if id == Administrator {
			continue
		}
		if ParseKind(row[FieldKind]) == KindSystemUser && ParseBool(row[FieldEnabled]) {
			n++
		}
	}
	return n, nil
}
