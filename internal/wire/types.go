// Package wire implements the DNS message wire format (RFC 1035 §4):
// header and name encoding with pointer compression, per-type RDATA, and
// whole-message packing/parsing with truncation.
package wire

import (
	"fmt"
	"net"
	"strings"
)

// QType is a 16-bit DNS record type.
type QType uint16

const (
	TypeA     QType = 1
	TypeNS    QType = 2
	TypeCNAME QType = 5
	TypeSOA   QType = 6
	TypePTR   QType = 12
	TypeMX    QType = 15
	TypeTXT   QType = 16
	TypeAAAA  QType = 28
	TypeSRV   QType = 33
	TypeNAPTR QType = 35
	TypeANY   QType = 255
)

var qtypeNames = map[QType]string{
	TypeA:     "A",
	TypeNS:    "NS",
	TypeCNAME: "CNAME",
	TypeSOA:   "SOA",
	TypePTR:   "PTR",
	TypeMX:    "MX",
	TypeTXT:   "TXT",
	TypeAAAA:  "AAAA",
	TypeSRV:   "SRV",
	TypeNAPTR: "NAPTR",
	TypeANY:   "ANY",
}

// String renders a known mnemonic, or TYPEnnn for unknown/opaque types.
func (t QType) String() string {
	if s, ok := qtypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", uint16(t))
}

// ClassIN is the only DNS class this codec speaks.
const ClassIN uint16 = 1

// Kind distinguishes a question-only entry from a full resource record.
type Kind uint8

const (
	REQUEST Kind = iota
	RESPONSE
)

// Rcode values used by the planner and client.
const (
	RcodeSuccess        = 0
	RcodeFormatError    = 1
	RcodeServerFailure  = 2
	RcodeNameError      = 3 // NXDOMAIN
	RcodeNotImplemented = 4
	RcodeRefused        = 5
)

// Opcode values.
const OpcodeQuery = 0

// CanonicalName lowercases a name and strips any trailing dot. It is the
// only form names are stored or compared in throughout this module.
func CanonicalName(name string) string {
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, ".")
	return name
}

// splitLabels returns the dot-separated labels of a canonical name, or nil
// for the root name "".
func splitLabels(name string) []string {
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}

// Flags holds the DNS header's bit fields (RFC 1035 §4.1.1).
type Flags struct {
	QR     bool
	Opcode uint8 // 4 bits
	AA     bool
	TC     bool
	RD     bool
	RA     bool
	Z      uint8 // 3 bits, reserved
	Rcode  uint8 // 4 bits
}

func (f Flags) pack() uint16 {
	var v uint16
	if f.QR {
		v |= 1 << 15
	}
	v |= uint16(f.Opcode&0x0F) << 11
	if f.AA {
		v |= 1 << 10
	}
	if f.TC {
		v |= 1 << 9
	}
	if f.RD {
		v |= 1 << 8
	}
	if f.RA {
		v |= 1 << 7
	}
	v |= uint16(f.Z&0x07) << 4
	v |= uint16(f.Rcode & 0x0F)
	return v
}

func unpackFlags(v uint16) Flags {
	return Flags{
		QR:     v&(1<<15) != 0,
		Opcode: uint8((v >> 11) & 0x0F),
		AA:     v&(1<<10) != 0,
		TC:     v&(1<<9) != 0,
		RD:     v&(1<<8) != 0,
		RA:     v&(1<<7) != 0,
		Z:      uint8((v >> 4) & 0x07),
		Rcode:  uint8(v & 0x0F),
	}
}

// Question is a qd-section entry: name + qtype only, no TTL or RDATA.
type Question struct {
	Name   string
	QType  QType
	QClass uint16
}

// Record is a full resource-record entry. Qd-section entries are carried
// as Question values, not as Records.
//
// TTL follows the semantics of spec.md §3: -1 means pinned (never expires),
// 0 means uncacheable, and any positive value is seconds remaining as of
// Timestamp.
type Record struct {
	Kind      Kind
	Name      string
	QType     QType
	QClass    uint16
	TTL       int32
	Data      RData
	Timestamp int64 // unix seconds at insertion
}

// Copy returns a shallow copy of the record with a new owner name, used
// when replaying a cached CNAME/record chain under a different query name.
func (r Record) Copy(name string) Record {
	r.Name = name
	return r
}

// Message is a full DNS message: header + four sections.
type Message struct {
	ID         uint16
	Flags      Flags
	Question   []Question
	Answer     []Record
	Authority  []Record
	Additional []Record
}

// NewQuery builds a minimal REQUEST message with one question.
func NewQuery(id uint16, name string, qtype QType) *Message {
	return &Message{
		ID:       id,
		Flags:    Flags{RD: true},
		Question: []Question{{Name: CanonicalName(name), QType: qtype, QClass: ClassIN}},
	}
}

// RData is the tagged-variant payload of a resource record. Concrete
// implementations live in rdata.go. Type returns the QType the variant
// encodes as; Key returns a canonical string used for cache-key equality
// (RData itself may embed slices and so isn't always comparable).
type RData interface {
	Type() QType
	Key() string
	String() string
}

// ipString renders an IP without zone/scope noise, matching how A/AAAA
// records are textually represented in zone files and logs.
func ipString(ip net.IP) string {
	if ip == nil {
		return "<nil>"
	}
	return ip.String()
}
