package wire

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// hashKey seeds the cache's SipHash-2-4 keying. It is fixed rather than
// randomized at startup so that cache keys are reproducible across a
// process restart; the key carries no security role here since
// HashQuery is a lookup key, not an anti-spoofing token.
var hashKey = [16]byte{0x64, 0x6e, 0x73, 0x73, 0x63, 0x69, 0x65, 0x6e,
	0x63, 0x65, 0x72, 0x65, 0x73, 0x6f, 0x6c, 0x76}

// HashQuery derives a cache/dedup key for a (qname, qtype, qclass)
// triple using SipHash-2-4 under the fixed hashKey. Because that key is
// public, the hash gives no protection against qnames chosen to collide.
func HashQuery(qname string, qtype QType, qclass uint16) uint64 {
	h := siphash.New(hashKey[:])
	h.Write([]byte(CanonicalName(qname)))
	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], uint16(qtype))
	binary.BigEndian.PutUint16(tail[2:4], qclass)
	h.Write(tail[:])
	return h.Sum64()
}
