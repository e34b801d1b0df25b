package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

const (
	segMagic   = "CDX1"
	segVersion = 1

	// header: magic(4) version(2) reserved(2) count(4) crc(4)
	segHeaderSize = 16

	flagTombstone = 1
)

// record is one key/value pair inside a segment file. Tombstones carry an
// empty value and shadow older segments during merged reads.
type record struct {
	key       []byte
	value     []byte
	tombstone bool
}

// tableFile is a sorted, immutable segment on disk. The records are held
// in memory after load; files stay small because values are zstd packed
// postings and position keys.
type tableFile struct {
	path    string
	records []record
}

func (t *tableFile) get(key []byte) (record, bool) {
	i := sort.Search(len(t.records), func(i int) bool {
		return bytes.Compare(t.records[i].key, key) >= 0
	})
	if i < len(t.records) && bytes.Equal(t.records[i].key, key) {
		return t.records[i], true
	}
	return record{}, false
}

// writeTableFile writes records (already sorted by key) to path, fsyncs
// and renames into place.
func writeTableFile(path string, recs []record, enc *zstd.Encoder) error {
	var body bytes.Buffer
	var scratch [6]byte
	for _, r := range recs {
		if len(r.key) > 0xFFFF {
			return fmt.Errorf("segment: key too long (%d bytes)", len(r.key))
		}
		var flag byte
		if r.tombstone {
			flag = flagTombstone
		}
		body.WriteByte(flag)
		binary.BigEndian.PutUint16(scratch[0:2], uint16(len(r.key)))
		body.Write(scratch[0:2])
		body.Write(r.key)
		binary.BigEndian.PutUint32(scratch[0:4], uint32(len(r.value)))
		body.Write(scratch[0:4])
		body.Write(r.value)
	}

	compressed := enc.EncodeAll(body.Bytes(), nil)

	header := make([]byte, segHeaderSize)
	copy(header[0:4], segMagic)
	binary.BigEndian.PutUint16(header[4:6], segVersion)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(recs)))
	binary.BigEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(body.Bytes()))

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err = f.Write(header); err != nil {
		f.Close()
		return err
	}
	if _, err = f.Write(compressed); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readTableFile loads and verifies a segment file.
func readTableFile(path string, dec *zstd.Decoder) (*tableFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, segHeaderSize)
	if _, err = io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("segment: short header in %s: %w", path, err)
	}
	if string(header[0:4]) != segMagic {
		return nil, fmt.Errorf("segment: bad magic in %s", path)
	}
	if v := binary.BigEndian.Uint16(header[4:6]); v != segVersion {
		return nil, fmt.Errorf("segment: unsupported version %d in %s", v, path)
	}
	count := binary.BigEndian.Uint32(header[8:12])
	wantCRC := binary.BigEndian.Uint32(header[12:16])

	compressed, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	body, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("segment: decompress %s: %w", path, err)
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, fmt.Errorf("segment: checksum mismatch in %s", path)
	}

	recs := make([]record, 0, count)
	for off := 0; off < len(body); {
		if off+3 > len(body) {
			return nil, fmt.Errorf("segment: truncated record in %s", path)
		}
		flag := body[off]
		keyLen := int(binary.BigEndian.Uint16(body[off+1 : off+3]))
		off += 3
		if off+keyLen+4 > len(body) {
			return nil, fmt.Errorf("segment: truncated record in %s", path)
		}
		key := body[off : off+keyLen]
		off += keyLen
		valLen := int(binary.BigEndian.Uint32(body[off : off+4]))
		off += 4
		if off+valLen > len(body) {
			return nil, fmt.Errorf("segment: truncated record in %s", path)
		}
		value := body[off : off+valLen]
		off += valLen
		recs = append(recs, record{
			key:       key,
			value:     value,
			tombstone: flag&flagTombstone != 0,
		})
	}
	if uint32(len(recs)) != count {
		return nil, fmt.Errorf("segment: record count mismatch in %s: header %d, body %d",
			path, count, len(recs))
	}
	return &tableFile{path: path, records: recs}, nil
}
