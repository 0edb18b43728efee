package wallets

import (
	"encoding/binary"
	"math/big"
)

// rlpBytes encodes a byte string.
func rlpBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return []byte{b[0]}
	}
	return append(rlpHeader(0x80, len(b)), b...)
}

func rlpUint(i uint64) []byte {
	if i == 0 {
		return rlpBytes(nil)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	n := 0
	for buf[n] == 0 {
		n++
	}
	return rlpBytes(buf[n:])
}

// rlpBig encodes a non-negative integer. nil encodes as zero.
func rlpBig(i *big.Int) []byte {
	if i == nil {
		return rlpBytes(nil)
	}
	return rlpBytes(i.Bytes())
}

func rlpList(items ...[]byte) []byte {
	size := 0
	for _, item := range items {
		size += len(item)
	}
	out := rlpHeader(0xc0, size)
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func rlpHeader(offset byte, size int) []byte {
	if size <= 55 {
		return []byte{offset + byte(size)}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(size))
	n := 0
	for buf[n] == 0 {
		n++
	}
	return append([]byte{offset + 55 + byte(8-n)}, buf[n:]...)
}
