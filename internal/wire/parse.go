package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Security limits mirror the hardening a production resolver applies
// against compressed-name attacks (e.g. CVE-2024-8508 style bombs).
const (
	maxCompressionDepth = 20
	maxRRsPerSection    = 100
	maxSectionBytes     = 32 * 1024
	maxMessageBytes     = 65535
	headerSize          = 12
	maxLabelLength      = 63
	maxNameLength       = 255
)

// Parser decodes a single wire-format DNS message. It tracks a sequential
// cursor for header/question/RR-section parsing, and additionally exposes
// random-access helpers (bytesAt, parseNameAt, ...) that RDATA decoders
// use to dereference compression pointers and fixed-width fields that
// live past the RR's nominal rdlength boundary.
type Parser struct {
	msg    []byte
	offset int

	decompressionOps int
}

// NewParser returns a parser over msg. msg is retained, not copied; the
// caller must not mutate it while parsing is in progress.
func NewParser(msg []byte) *Parser {
	return &Parser{msg: msg}
}

// Parse decodes a complete message: header, question, and the three RR
// sections, in wire order.
func (p *Parser) Parse() (*Message, error) {
	if len(p.msg) < headerSize {
		return nil, ErrMessageTooShort
	}

	m := &Message{}
	id, flags, qd, an, ns, ar := p.parseHeaderFields()
	m.ID = id
	m.Flags = unpackFlags(flags)
	p.offset = headerSize

	var err error
	m.Question, err = p.parseQuestions(int(qd))
	if err != nil {
		return nil, fmt.Errorf("question section: %w", err)
	}
	m.Answer, err = p.parseRRSection(int(an))
	if err != nil {
		return nil, fmt.Errorf("answer section: %w", err)
	}
	m.Authority, err = p.parseRRSection(int(ns))
	if err != nil {
		return nil, fmt.Errorf("authority section: %w", err)
	}
	m.Additional, err = p.parseRRSection(int(ar))
	if err != nil {
		return nil, fmt.Errorf("additional section: %w", err)
	}
	return m, nil
}

func (p *Parser) parseHeaderFields() (id, flags, qd, an, ns, ar uint16) {
	id = binary.BigEndian.Uint16(p.msg[0:2])
	flags = binary.BigEndian.Uint16(p.msg[2:4])
	qd = binary.BigEndian.Uint16(p.msg[4:6])
	an = binary.BigEndian.Uint16(p.msg[6:8])
	ns = binary.BigEndian.Uint16(p.msg[8:10])
	ar = binary.BigEndian.Uint16(p.msg[10:12])
	return
}

func (p *Parser) parseQuestions(count int) ([]Question, error) {
	if count > maxRRsPerSection {
		return nil, ErrTooManyRRs
	}
	qs := make([]Question, 0, count)
	for i := 0; i < count; i++ {
		name, err := p.parseName()
		if err != nil {
			return nil, fmt.Errorf("question %d name: %w", i, err)
		}
		if p.offset+4 > len(p.msg) {
			return nil, ErrMessageTooShort
		}
		qtype := binary.BigEndian.Uint16(p.msg[p.offset : p.offset+2])
		qclass := binary.BigEndian.Uint16(p.msg[p.offset+2 : p.offset+4])
		p.offset += 4
		qs = append(qs, Question{Name: name, QType: QType(qtype), QClass: qclass})
	}
	return qs, nil
}

func (p *Parser) parseRRSection(count int) ([]Record, error) {
	if count > maxRRsPerSection {
		return nil, ErrTooManyRRs
	}
	rrs := make([]Record, 0, count)
	sectionSize := 0
	for i := 0; i < count; i++ {
		start := p.offset
		rr, err := p.parseRR()
		if err != nil {
			return nil, fmt.Errorf("rr %d: %w", i, err)
		}
		sectionSize += p.offset - start
		if sectionSize > maxSectionBytes {
			return nil, ErrRRsetTooLarge
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

func (p *Parser) parseRR() (Record, error) {
	name, err := p.parseName()
	if err != nil {
		return Record{}, fmt.Errorf("name: %w", err)
	}
	if p.offset+10 > len(p.msg) {
		return Record{}, ErrMessageTooShort
	}
	qtype := QType(binary.BigEndian.Uint16(p.msg[p.offset : p.offset+2]))
	qclass := binary.BigEndian.Uint16(p.msg[p.offset+2 : p.offset+4])
	ttl := int32(binary.BigEndian.Uint32(p.msg[p.offset+4 : p.offset+8]))
	rdlength := int(binary.BigEndian.Uint16(p.msg[p.offset+8 : p.offset+10]))
	rdataOff := p.offset + 10

	if rdataOff+rdlength > len(p.msg) {
		return Record{}, ErrMessageTooShort
	}

	data, err := loadRData(p, qtype, rdataOff, rdlength)
	if err != nil {
		return Record{}, fmt.Errorf("rdata: %w", err)
	}
	p.offset = rdataOff + rdlength

	return Record{
		Kind:      RESPONSE,
		Name:      name,
		QType:     qtype,
		QClass:    qclass,
		TTL:       ttl,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}, nil
}

// parseName decodes the name at the parser's current cursor, following
// compression pointers and advancing p.offset past the name's own
// representation (not past any pointer target it jumped to).
func (p *Parser) parseName() (string, error) {
	name, next, err := p.parseNameAt(p.offset)
	if err != nil {
		return "", err
	}
	p.offset = next
	return name, nil
}

// parseNameAt decodes a name starting at off without touching the
// parser's sequential cursor, returning the offset immediately after the
// name's own encoding (before any pointer jump). It is safe to call with
// an off that lies inside RDATA, including offsets that jump backward via
// compression into the question or an earlier RR.
func (p *Parser) parseNameAt(off int) (string, int, error) {
	var labels []string
	visited := make(map[int]bool)
	depth := 0
	cur := off
	jumped := false
	afterOwn := off
	origin := off

	for {
		if depth > maxCompressionDepth {
			return "", 0, ErrCompressionBomb
		}
		if cur >= len(p.msg) {
			return "", 0, ErrInvalidOffset
		}

		length := int(p.msg[cur])

		if length&0xC0 == 0xC0 {
			if cur+1 >= len(p.msg) {
				return "", 0, ErrMessageTooShort
			}
			ptr := int(binary.BigEndian.Uint16(p.msg[cur:cur+2]) & 0x3FFF)
			if visited[ptr] {
				return "", 0, ErrCompressionBomb
			}
			visited[ptr] = true
			if ptr >= origin {
				return "", 0, ErrInvalidOffset
			}
			if !jumped {
				afterOwn = cur + 2
				jumped = true
			}
			cur = ptr
			depth++
			p.decompressionOps++
			continue
		}

		if length == 0 {
			if !jumped {
				afterOwn = cur + 1
			}
			break
		}

		if length > maxLabelLength {
			return "", 0, ErrLabelTooLong
		}

		cur++
		if cur+length > len(p.msg) {
			return "", 0, ErrMessageTooShort
		}
		labels = append(labels, string(p.msg[cur:cur+length]))
		cur += length
	}

	if len(labels) == 0 {
		return "", afterOwn, nil
	}

	name := labels[0]
	for _, l := range labels[1:] {
		name += "." + l
	}
	if len(name)+1 > maxNameLength {
		return "", 0, ErrNameTooLong
	}
	return name, afterOwn, nil
}

func (p *Parser) bytesAt(off, n int) ([]byte, error) {
	if off < 0 || off+n > len(p.msg) {
		return nil, ErrMessageTooShort
	}
	return p.msg[off : off+n], nil
}

func (p *Parser) byteAt(off int) (byte, error) {
	if off < 0 || off >= len(p.msg) {
		return 0, ErrMessageTooShort
	}
	return p.msg[off], nil
}

func (p *Parser) uint16At(off int) (uint16, error) {
	b, err := p.bytesAt(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// charString reads a single length-prefixed <character-string> (RFC 1035
// §3.3) starting at off, returning its text and the offset past it.
func (p *Parser) charString(off int) (string, int, error) {
	n, err := p.byteAt(off)
	if err != nil {
		return "", 0, err
	}
	b, err := p.bytesAt(off+1, int(n))
	if err != nil {
		return "", 0, err
	}
	return string(b), off + 1 + int(n), nil
}
