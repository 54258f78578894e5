package boltstore

import (
	"bytes"
	"encoding/gob"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// recordVersion is bumped whenever gamedb.Record changes incompatibly.
const recordVersion = 1

// meta describes the stored table as a whole.
type meta struct {
	Version int
	Top     int
	SavedAt int64
	Objects int
}

func init() {
	gob.Register(gamedb.Record{})
	gob.Register(meta{})
}

// encodeRecord serializes a Record to bytes using gob.
func encodeRecord(r *gamedb.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord deserializes bytes back into a Record.
func decodeRecord(data []byte) (*gamedb.Record, error) {
	var r gamedb.Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func encodeMeta(m meta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMeta(data []byte) (meta, error) {
	var m meta
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m)
	return m, err
}
