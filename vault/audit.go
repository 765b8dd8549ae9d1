// Copyright 2026 Blink Labs Software
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

package vault

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultAuditLimit = 1000

type AuditAction string

const (
	AuditCreate  AuditAction = "create"
	AuditAccess  AuditAction = "access"
	AuditSign    AuditAction = "sign"
	AuditExport  AuditAction = "export"
	AuditDelete  AuditAction = "delete"
	AuditAttempt AuditAction = "attempt"
)

// AuditEntry is an immutable record of one vault operation
type AuditEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    AuditAction       `json:"action"`
	KeyID     string            `json:"keyId,omitempty"`
	Success   bool              `json:"success"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLog is a bounded append-only log. Once full the oldest entries are
// dropped; the remaining order is preserved.
type AuditLog struct {
	mu      sync.Mutex
	limit   int
	entries []AuditEntry
	sink    func(AuditEntry)
}

func NewAuditLog(limit int) *AuditLog {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	return &AuditLog{
		limit:   limit,
		entries: make([]AuditEntry, 0, limit),
	}
}

// Append records the entry, assigning an id when it has none
func (l *AuditLog) Append(entry AuditEntry) AuditEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	l.mu.Lock()
	if len(l.entries) >= l.limit {
		drop := len(l.entries) - l.limit + 1
		l.entries = slices.Delete(l.entries, 0, drop)
	}
	l.entries = append(l.entries, entry)
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(entry)
	}
	return entry
}

// Entries returns up to limit of the most recent entries, oldest first. A
// limit of zero returns everything retained.
func (l *AuditLog) Entries(limit int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if limit > 0 && limit < len(l.entries) {
		start = len(l.entries) - limit
	}
	ret := make([]AuditEntry, 0, len(l.entries)-start)
	for _, entry := range l.entries[start:] {
		entry.Metadata = maps.Clone(entry.Metadata)
		ret = append(ret, entry)
	}
	return ret
}

func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *AuditLog) setSink(sink func(AuditEntry)) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}
