package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// DecodeBitmap turns a stored posting list into a document-id set. The
// returned bitmap owns its memory and stays valid after the transaction that
// produced buf is closed.
func DecodeBitmap(buf []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(buf) == 0 {
		return bm, nil
	}
	if _, err := bm.ReadFrom(bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("decoding posting list: %w", err)
	}
	return bm, nil
}

// EncodeBitmap serialises a document-id set in the portable roaring format.
func EncodeBitmap(bm *roaring.Bitmap) ([]byte, error) {
	bm.RunOptimize()
	return bm.ToBytes()
}

// PairKey encodes a (proximity, left, right) key of the pair databases.
func PairKey(proximity uint8, left, right string) []byte {
	key := make([]byte, 0, 2+len(left)+len(right))
	key = append(key, proximity)
	key = append(key, left...)
	key = append(key, 0)
	key = append(key, right...)
	return key
}

// DecodePairKey is the inverse of PairKey.
func DecodePairKey(key []byte) (proximity uint8, left, right string, err error) {
	if len(key) < 2 {
		return 0, "", "", fmt.Errorf("pair key too short: %d bytes", len(key))
	}
	sep := bytes.IndexByte(key[1:], 0)
	if sep < 0 {
		return 0, "", "", fmt.Errorf("pair key has no separator")
	}
	return key[0], string(key[1 : 1+sep]), string(key[2+sep:]), nil
}

// DocIDKey encodes a document id so that keys sort in id order.
func DocIDKey(docid uint32) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], docid)
	return key[:]
}

// FloatKey encodes f so that the byte order of keys matches the numeric
// order of values, negative numbers included.
func FloatKey(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], bits)
	return key[:]
}

// DecodeFloatKey is the inverse of FloatKey.
func DecodeFloatKey(key []byte) (float64, error) {
	if len(key) != 8 {
		return 0, fmt.Errorf("float key must be 8 bytes, got %d", len(key))
	}
	bits := binary.BigEndian.Uint64(key)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

func encodeGeoPoint(lat, lng float64) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(lat))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(lng))
	return buf[:]
}

func decodeGeoPoint(buf []byte) (lat, lng float64, err error) {
	if len(buf) != 16 {
		return 0, 0, fmt.Errorf("geo point must be 16 bytes, got %d", len(buf))
	}
	lat = math.Float64frombits(binary.BigEndian.Uint64(buf[0:8]))
	lng = math.Float64frombits(binary.BigEndian.Uint64(buf[8:16]))
	return lat, lng, nil
}
