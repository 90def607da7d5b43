package venue

import (
	"encoding/binary"
	"fmt"
)

// MaxPrice is the largest price that fits the packed identifier (63 bits).
const MaxPrice = 1<<63 - 1

// OrderID is the packed 128-bit composite order key:
//
//	bit 127       side (0 = bid, 1 = ask)
//	bits 126..64  price (63 bits)
//	bits  63..0   per-side monotonic sequence
//
// Comparing two identifiers lexicographically on (Hi, Lo) therefore compares
// (side, price, sequence). Within one side and price bucket, a lower sequence
// means earlier insertion, so price-time priority is a pure sort on the key.
type OrderID struct {
	Hi uint64
	Lo uint64
}

// NewOrderID packs side, price and sequence into an identifier. The caller
// must have validated price <= MaxPrice.
func NewOrderID(side Side, price uint64, seq uint64) OrderID {
	hi := price
	if side == Ask {
		hi |= 1 << 63
	}
	return OrderID{Hi: hi, Lo: seq}
}

func (id OrderID) Side() Side {
	if id.Hi>>63 == 1 {
		return Ask
	}
	return Bid
}

func (id OrderID) Price() uint64 { return id.Hi &^ (1 << 63) }
func (id OrderID) Seq() uint64   { return id.Lo }

// Less is the total order over identifiers: side, then price, then sequence.
func (id OrderID) Less(other OrderID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

func (id OrderID) IsZero() bool { return id.Hi == 0 && id.Lo == 0 }

// Bytes returns the big-endian 16-byte encoding; byte order preserves the
// key's sort order, so encoded identifiers sort correctly in a KV store.
func (id OrderID) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:], id.Lo)
	return b
}

func OrderIDFromBytes(b [16]byte) OrderID {
	return OrderID{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}
}

func (id OrderID) String() string {
	return fmt.Sprintf("%s/%d/%d", id.Side(), id.Price(), id.Seq())
}
