// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package credential

import (
	"context"
	"sort"
	"sync"
)

// MemoryVault keeps records in process memory. It backs the file store and
// is used directly by tests and ephemeral clients.
type MemoryVault struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{records: make(map[string]*Record)}
}

func (v *MemoryVault) Get(_ context.Context, id string) (*Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rec, ok := v.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

func (v *MemoryVault) Put(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return ErrEmptyID
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[rec.ID] = rec.clone()
	return nil
}

func (v *MemoryVault) Remove(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.records[id]; !ok {
		return ErrNotFound
	}
	delete(v.records, id)
	return nil
}

func (v *MemoryVault) IsAdmin(_ context.Context, id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[id]
	return ok && rec.Admin
}

func (v *MemoryVault) AdminCount(_ context.Context) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := 0
	for _, rec := range v.records {
		if rec.Admin {
			n++
		}
	}
	return n, nil
}

// IDs returns all record ids in sorted order.
func (v *MemoryVault) IDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.records))
	for id := range v.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (v *MemoryVault) snapshot() []Record {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Record, 0, len(v.records))
	for _, rec := range v.records {
		out = append(out, *rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
