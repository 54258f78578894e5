package boltstore

import (
	"encoding/binary"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

var (
	bucketMeta    = []byte("meta")
	bucketObjects = []byte("objects")
	bucketPlayers = []byte("players") // lowercased name -> object key
)

// keyMeta holds the gob-encoded snapshot header in bucketMeta.
var keyMeta = []byte("snapshot")

// objectKey encodes ref as 4 bytes with the sign bit flipped, so bbolt's
// byte order matches numeric order and sentinels sort before #0.
func objectKey(ref gamedb.DBRef) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(int32(ref))^0x80000000)
	return k[:]
}

func refFromKey(k []byte) gamedb.DBRef {
	return gamedb.DBRef(int32(binary.BigEndian.Uint32(k) ^ 0x80000000))
}
