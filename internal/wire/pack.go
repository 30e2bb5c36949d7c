package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// maxAge is the wire TTL written for a pinned (TTL == -1) record, matching
// the original's MAXAGE sentinel for records that never expire (hosts-file
// entries, root hints): one thousand hours.
const maxAge = 3_600_000

// packer accumulates a wire-format message and tracks a compression
// dictionary of previously-written name suffixes, matching the
// longest-suffix-reuse scheme RFC 1035 §4.1.4 describes.
type packer struct {
	buf   []byte
	names map[string]int // canonical suffix -> offset it was first written at
}

func newPacker() *packer {
	return &packer{names: make(map[string]int)}
}

func (pk *packer) writeByte(b byte) { pk.buf = append(pk.buf, b) }

func (pk *packer) writeBytes(b []byte) { pk.buf = append(pk.buf, b...) }

func (pk *packer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	pk.writeBytes(b[:])
}

func (pk *packer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	pk.writeBytes(b[:])
}

func (pk *packer) writeCharString(s string) error {
	if len(s) > 255 {
		return fmt.Errorf("%w: character-string longer than 255 octets", ErrFormat)
	}
	pk.writeByte(byte(len(s)))
	pk.writeBytes([]byte(s))
	return nil
}

// packName writes name using compression: it walks the name's suffixes
// from longest to shortest, reuses a pointer to the longest suffix
// already present in the dictionary, and records an entry for every new
// suffix it writes (when the suffix's offset fits in a 14-bit pointer).
func (pk *packer) packName(name string) error {
	name = CanonicalName(name)
	if len(name)+1 > maxNameLength {
		return ErrNameTooLong
	}
	labels := splitLabels(name)
	for _, l := range labels {
		if len(l) > maxLabelLength {
			return ErrLabelTooLong
		}
	}

	for i := 0; i < len(labels); i++ {
		suffix := strings.Join(labels[i:], ".")
		if off, ok := pk.names[suffix]; ok {
			pk.writeUint16(uint16(0xC000 | off))
			return nil
		}
		if off := len(pk.buf); off <= 0x3FFF {
			pk.names[suffix] = off
		}
		pk.writeByte(byte(len(labels[i])))
		pk.writeBytes([]byte(labels[i]))
	}
	pk.writeByte(0)
	return nil
}

// packNameUncompressed writes name as literal labels with no pointer
// reuse and registers no dictionary entries, for RDATA fields (SRV
// targets, NAPTR replacement) that must not be compressed.
func (pk *packer) packNameUncompressed(name string) error {
	name = CanonicalName(name)
	if len(name)+1 > maxNameLength {
		return ErrNameTooLong
	}
	for _, l := range splitLabels(name) {
		if len(l) > maxLabelLength {
			return ErrLabelTooLong
		}
		pk.writeByte(byte(len(l)))
		pk.writeBytes([]byte(l))
	}
	pk.writeByte(0)
	return nil
}

func (pk *packer) packQuestion(q Question) error {
	if err := pk.packName(q.Name); err != nil {
		return err
	}
	pk.writeUint16(uint16(q.QType))
	pk.writeUint16(q.QClass)
	return nil
}

// wireTTL computes the TTL actually written to the wire for r: a pinned
// record (TTL == -1) is packed as maxAge, and any other record is packed
// as whatever TTL remains since it was cached, not the TTL it was cached
// with, so a record packed long after insertion doesn't overstate how
// much longer it's good for.
func wireTTL(r Record) int32 {
	if r.TTL < 0 {
		return maxAge
	}
	elapsed := time.Now().Unix() - r.Timestamp
	remaining := int64(r.TTL) - elapsed
	if remaining < 0 {
		return 0
	}
	return int32(remaining)
}

// packRecord appends name, type, class, ttl, and a length-prefixed RDATA
// blob, patching the two-byte rdlength placeholder once the RDATA
// dumper has run.
func (pk *packer) packRecord(r Record) error {
	if err := pk.packName(r.Name); err != nil {
		return err
	}
	pk.writeUint16(uint16(r.QType))
	pk.writeUint16(r.QClass)
	pk.writeUint32(uint32(wireTTL(r)))

	lenOff := len(pk.buf)
	pk.writeUint16(0) // placeholder, patched below
	dataStart := len(pk.buf)

	if err := dumpRData(pk, r.Data); err != nil {
		return err
	}
	rdlength := len(pk.buf) - dataStart
	binary.BigEndian.PutUint16(pk.buf[lenOff:lenOff+2], uint16(rdlength))
	return nil
}

// PackMessage serializes m to wire format. If sizeLimit is positive and
// the fully-packed message would exceed it, packing stops after as many
// whole records as fit, the TC flag is set, and the header's section
// counts are patched to reflect only the records actually emitted.
func PackMessage(m *Message, sizeLimit int) ([]byte, error) {
	pk := newPacker()

	// Reserve the header; its fields are patched in after every section
	// is known, since TC and the final counts depend on packing them.
	pk.buf = make([]byte, headerSize)

	qdCount := 0
	for _, q := range m.Question {
		before := len(pk.buf)
		if err := pk.packQuestion(q); err != nil {
			pk.rollback(before)
			break
		}
		qdCount++
	}

	truncated := false
	anCount, truncated1 := pk.packSectionLimited(m.Answer, sizeLimit)
	nsCount, truncated2 := 0, false
	arCount, truncated3 := 0, false
	if !truncated1 {
		nsCount, truncated2 = pk.packSectionLimited(m.Authority, sizeLimit)
	}
	if !truncated1 && !truncated2 {
		arCount, truncated3 = pk.packSectionLimited(m.Additional, sizeLimit)
	}
	truncated = truncated1 || truncated2 || truncated3

	flags := m.Flags
	flags.TC = flags.TC || truncated
	binary.BigEndian.PutUint16(pk.buf[0:2], m.ID)
	binary.BigEndian.PutUint16(pk.buf[2:4], flags.pack())
	binary.BigEndian.PutUint16(pk.buf[4:6], uint16(qdCount))
	binary.BigEndian.PutUint16(pk.buf[6:8], uint16(anCount))
	binary.BigEndian.PutUint16(pk.buf[8:10], uint16(nsCount))
	binary.BigEndian.PutUint16(pk.buf[10:12], uint16(arCount))

	return pk.buf, nil
}

// packSectionLimited appends as many records as fit under sizeLimit (0
// meaning unlimited), returning the count actually written and whether
// the section was cut short.
func (pk *packer) packSectionLimited(records []Record, sizeLimit int) (int, bool) {
	count := 0
	for _, r := range records {
		before := len(pk.buf)
		if err := pk.packRecord(r); err != nil {
			pk.rollback(before)
			return count, true
		}
		if sizeLimit > 0 && len(pk.buf) > sizeLimit {
			pk.rollback(before)
			return count, true
		}
		count++
	}
	return count, false
}

// rollback truncates the buffer back to off and forgets any compression
// dictionary entries that pointed into the discarded tail, so a later
// name doesn't compress against an offset that no longer holds it.
func (pk *packer) rollback(off int) {
	pk.buf = pk.buf[:off]
	for suffix, o := range pk.names {
		if o >= off {
			delete(pk.names, suffix)
		}
	}
}
