package db

import "encoding/binary"

// EncodeKey maps a signed key to 8 bytes whose lexicographic order equals
// the numeric order: big-endian with the sign bit flipped.
func EncodeKey(k Key) [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(k)^(1<<63))
	return out
}

// DecodeKey inverts EncodeKey.
func DecodeKey(b []byte) Key {
	return Key(binary.BigEndian.Uint64(b) ^ (1 << 63))
}
