package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

const (
	opPut    = 1
	opDelete = 2
)

// op is a single staged mutation inside a write transaction and the unit
// replayed from the journal on open.
type op struct {
	kind  byte
	key   []byte
	value []byte
}

// encodeBatch serializes a committed batch for the journal:
// length(4) crc(4) payload, with ops as kind(1) keyLen(2) key [valLen(4) value].
func encodeBatch(ops []op) []byte {
	var payload []byte
	var scratch [4]byte
	for _, o := range ops {
		payload = append(payload, o.kind)
		binary.BigEndian.PutUint16(scratch[0:2], uint16(len(o.key)))
		payload = append(payload, scratch[0:2]...)
		payload = append(payload, o.key...)
		if o.kind == opPut {
			binary.BigEndian.PutUint32(scratch[0:4], uint32(len(o.value)))
			payload = append(payload, scratch[0:4]...)
			payload = append(payload, o.value...)
		}
	}
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(payload))
	copy(out[8:], payload)
	return out
}

func decodeBatch(payload []byte) ([]op, error) {
	var ops []op
	for off := 0; off < len(payload); {
		if off+3 > len(payload) {
			return nil, fmt.Errorf("segment: truncated journal op")
		}
		kind := payload[off]
		keyLen := int(binary.BigEndian.Uint16(payload[off+1 : off+3]))
		off += 3
		if off+keyLen > len(payload) {
			return nil, fmt.Errorf("segment: truncated journal key")
		}
		key := payload[off : off+keyLen]
		off += keyLen
		o := op{kind: kind, key: key}
		switch kind {
		case opPut:
			if off+4 > len(payload) {
				return nil, fmt.Errorf("segment: truncated journal value length")
			}
			valLen := int(binary.BigEndian.Uint32(payload[off : off+4]))
			off += 4
			if off+valLen > len(payload) {
				return nil, fmt.Errorf("segment: truncated journal value")
			}
			o.value = payload[off : off+valLen]
			off += valLen
		case opDelete:
		default:
			return nil, fmt.Errorf("segment: unknown journal op %d", kind)
		}
		ops = append(ops, o)
	}
	return ops, nil
}

// replayJournal applies every intact batch in the journal to the memtable.
// A torn tail batch from a crashed writer is discarded and the file is
// truncated back to the last good offset.
func replayJournal(f *os.File, mt *memtable) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var good int64
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			break
		}
		length := binary.BigEndian.Uint32(header[0:4])
		wantCRC := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			break
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break
		}
		ops, err := decodeBatch(payload)
		if err != nil {
			break
		}
		for _, o := range ops {
			switch o.kind {
			case opPut:
				mt.put(string(o.key), append([]byte(nil), o.value...))
			case opDelete:
				mt.delete(string(o.key))
			}
		}
		good += int64(8 + len(payload))
	}
	if err := f.Truncate(good); err != nil {
		return err
	}
	_, err := f.Seek(good, io.SeekStart)
	return err
}
