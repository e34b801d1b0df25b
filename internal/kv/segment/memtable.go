package segment

import (
	"sort"
)

// memval is one live memtable entry. Tombstones shadow older segment data
// until a compaction drops them.
type memval struct {
	value     []byte
	tombstone bool
}

// memtable buffers committed writes until they are flushed to a segment
// file. Callers synchronize access through the store's lock.
type memtable struct {
	entries map[string]memval
	bytes   int64
}

func newMemtable() *memtable {
	return &memtable{entries: make(map[string]memval)}
}

func (m *memtable) put(key string, value []byte) {
	if old, ok := m.entries[key]; ok {
		m.bytes -= int64(len(key) + len(old.value))
	}
	m.entries[key] = memval{value: value}
	m.bytes += int64(len(key) + len(value))
}

func (m *memtable) delete(key string) {
	if old, ok := m.entries[key]; ok {
		m.bytes -= int64(len(key) + len(old.value))
	}
	m.entries[key] = memval{tombstone: true}
	m.bytes += int64(len(key))
}

func (m *memtable) get(key string) (memval, bool) {
	v, ok := m.entries[key]
	return v, ok
}

func (m *memtable) len() int { return len(m.entries) }

func (m *memtable) size() int64 { return m.bytes }

// flush returns all entries sorted by key and clears the memtable.
func (m *memtable) flush() []record {
	if len(m.entries) == 0 {
		return nil
	}
	out := make([]record, 0, len(m.entries))
	for k, v := range m.entries {
		out = append(out, record{
			key:       []byte(k),
			value:     v.value,
			tombstone: v.tombstone,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].key) < string(out[j].key)
	})
	m.entries = make(map[string]memval)
	m.bytes = 0
	return out
}
