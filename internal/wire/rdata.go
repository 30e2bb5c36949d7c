package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// RDataA is an IPv4 address record.
type RDataA struct{ IP net.IP }

func (r RDataA) Type() QType    { return TypeA }
func (r RDataA) Key() string    { return r.IP.String() }
func (r RDataA) String() string { return ipString(r.IP) }

// RDataAAAA is an IPv6 address record.
type RDataAAAA struct{ IP net.IP }

func (r RDataAAAA) Type() QType    { return TypeAAAA }
func (r RDataAAAA) Key() string    { return r.IP.String() }
func (r RDataAAAA) String() string { return ipString(r.IP) }

// RDataCNAME/NS/PTR all carry a single target name.
type RDataCNAME struct{ Name string }

func (r RDataCNAME) Type() QType    { return TypeCNAME }
func (r RDataCNAME) Key() string    { return r.Name }
func (r RDataCNAME) String() string { return r.Name }

type RDataNS struct{ Name string }

func (r RDataNS) Type() QType    { return TypeNS }
func (r RDataNS) Key() string    { return r.Name }
func (r RDataNS) String() string { return r.Name }

type RDataPTR struct{ Name string }

func (r RDataPTR) Type() QType    { return TypePTR }
func (r RDataPTR) Key() string    { return r.Name }
func (r RDataPTR) String() string { return r.Name }

// RDataSOA is a start-of-authority record.
type RDataSOA struct {
	Mname   string
	Rname   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func (r RDataSOA) Type() QType { return TypeSOA }
func (r RDataSOA) Key() string {
	return fmt.Sprintf("%s %s %d", r.Mname, r.Rname, r.Serial)
}
func (r RDataSOA) String() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d", r.Mname, r.Rname, r.Serial, r.Refresh, r.Retry, r.Expire, r.Minimum)
}

// RDataMX is a mail-exchange record.
type RDataMX struct {
	Preference uint16
	Exchange   string
}

func (r RDataMX) Type() QType    { return TypeMX }
func (r RDataMX) Key() string    { return fmt.Sprintf("%d %s", r.Preference, r.Exchange) }
func (r RDataMX) String() string { return fmt.Sprintf("%d %s", r.Preference, r.Exchange) }

// RDataSRV is a service-location record (RFC 2782).
type RDataSRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (r RDataSRV) Type() QType { return TypeSRV }
func (r RDataSRV) Key() string {
	return fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Target)
}
func (r RDataSRV) String() string {
	return fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Target)
}

// RDataTXT is an opaque character-string record.
type RDataTXT struct{ Text []byte }

func (r RDataTXT) Type() QType    { return TypeTXT }
func (r RDataTXT) Key() string    { return string(r.Text) }
func (r RDataTXT) String() string { return string(r.Text) }

// RDataNAPTR is a naming-authority-pointer record (RFC 3403).
type RDataNAPTR struct {
	Order       uint16
	Preference  uint16
	Flags       string
	Service     string
	Regexp      string
	Replacement string
}

func (r RDataNAPTR) Type() QType { return TypeNAPTR }
func (r RDataNAPTR) Key() string {
	return fmt.Sprintf("%d %d %s %s %s %s", r.Order, r.Preference, r.Flags, r.Service, r.Regexp, r.Replacement)
}
func (r RDataNAPTR) String() string { return r.Key() }

// RDataUnknown preserves an unrecognized QType's RDATA as opaque bytes.
type RDataUnknown struct {
	QType QType
	Raw   []byte
}

func (r RDataUnknown) Type() QType    { return r.QType }
func (r RDataUnknown) Key() string    { return string(r.Raw) }
func (r RDataUnknown) String() string { return fmt.Sprintf("\\# %d", len(r.Raw)) }

// rdataLoader parses the rdlength bytes of RDATA starting at off within
// msg (the full message, needed so name decompression can follow
// pointers anywhere in the packet).
type rdataLoader func(p *Parser, off, rdlength int) (RData, error)

// rdataDumper appends the wire form of an RData to a packer positioned
// right after the rdlength placeholder.
type rdataDumper func(pk *packer, r RData) error

var rdataLoaders = map[QType]rdataLoader{}
var rdataDumpers = map[QType]rdataDumper{}

func registerRData(t QType, load rdataLoader, dump rdataDumper) {
	rdataLoaders[t] = load
	rdataDumpers[t] = dump
}

func init() {
	registerRData(TypeA,
		func(p *Parser, off, rdlength int) (RData, error) {
			if rdlength != 4 {
				return nil, fmt.Errorf("%w: A rdata length %d", ErrFormat, rdlength)
			}
			b, err := p.bytesAt(off, 4)
			if err != nil {
				return nil, err
			}
			ip := make(net.IP, 4)
			copy(ip, b)
			return RDataA{IP: ip}, nil
		},
		func(pk *packer, r RData) error {
			a := r.(RDataA)
			ip4 := a.IP.To4()
			if ip4 == nil {
				return fmt.Errorf("%w: not an IPv4 address: %s", ErrFormat, a.IP)
			}
			pk.writeBytes(ip4)
			return nil
		})

	registerRData(TypeAAAA,
		func(p *Parser, off, rdlength int) (RData, error) {
			if rdlength != 16 {
				return nil, fmt.Errorf("%w: AAAA rdata length %d", ErrFormat, rdlength)
			}
			b, err := p.bytesAt(off, 16)
			if err != nil {
				return nil, err
			}
			ip := make(net.IP, 16)
			copy(ip, b)
			return RDataAAAA{IP: ip}, nil
		},
		func(pk *packer, r RData) error {
			a := r.(RDataAAAA)
			ip16 := a.IP.To16()
			if ip16 == nil {
				return fmt.Errorf("%w: not an IPv6 address: %s", ErrFormat, a.IP)
			}
			pk.writeBytes(ip16)
			return nil
		})

	registerRData(TypeCNAME,
		func(p *Parser, off, rdlength int) (RData, error) {
			name, _, err := p.parseNameAt(off)
			if err != nil {
				return nil, err
			}
			return RDataCNAME{Name: name}, nil
		},
		func(pk *packer, r RData) error { return pk.packName(r.(RDataCNAME).Name) })

	registerRData(TypeNS,
		func(p *Parser, off, rdlength int) (RData, error) {
			name, _, err := p.parseNameAt(off)
			if err != nil {
				return nil, err
			}
			return RDataNS{Name: name}, nil
		},
		func(pk *packer, r RData) error { return pk.packName(r.(RDataNS).Name) })

	registerRData(TypePTR,
		func(p *Parser, off, rdlength int) (RData, error) {
			name, _, err := p.parseNameAt(off)
			if err != nil {
				return nil, err
			}
			return RDataPTR{Name: name}, nil
		},
		func(pk *packer, r RData) error { return pk.packName(r.(RDataPTR).Name) })

	registerRData(TypeSOA,
		func(p *Parser, off, rdlength int) (RData, error) {
			mname, next, err := p.parseNameAt(off)
			if err != nil {
				return nil, err
			}
			rname, next, err := p.parseNameAt(next)
			if err != nil {
				return nil, err
			}
			nums, err := p.bytesAt(next, 20)
			if err != nil {
				return nil, err
			}
			return RDataSOA{
				Mname:   mname,
				Rname:   rname,
				Serial:  binary.BigEndian.Uint32(nums[0:4]),
				Refresh: binary.BigEndian.Uint32(nums[4:8]),
				Retry:   binary.BigEndian.Uint32(nums[8:12]),
				Expire:  binary.BigEndian.Uint32(nums[12:16]),
				Minimum: binary.BigEndian.Uint32(nums[16:20]),
			}, nil
		},
		func(pk *packer, r RData) error {
			s := r.(RDataSOA)
			if err := pk.packName(s.Mname); err != nil {
				return err
			}
			if err := pk.packName(s.Rname); err != nil {
				return err
			}
			pk.writeUint32(s.Serial)
			pk.writeUint32(s.Refresh)
			pk.writeUint32(s.Retry)
			pk.writeUint32(s.Expire)
			pk.writeUint32(s.Minimum)
			return nil
		})

	registerRData(TypeMX,
		func(p *Parser, off, rdlength int) (RData, error) {
			pref, err := p.uint16At(off)
			if err != nil {
				return nil, err
			}
			name, _, err := p.parseNameAt(off + 2)
			if err != nil {
				return nil, err
			}
			return RDataMX{Preference: pref, Exchange: name}, nil
		},
		func(pk *packer, r RData) error {
			m := r.(RDataMX)
			pk.writeUint16(m.Preference)
			return pk.packName(m.Exchange)
		})

	registerRData(TypeSRV,
		func(p *Parser, off, rdlength int) (RData, error) {
			nums, err := p.bytesAt(off, 6)
			if err != nil {
				return nil, err
			}
			target, _, err := p.parseNameAt(off + 6)
			if err != nil {
				return nil, err
			}
			return RDataSRV{
				Priority: binary.BigEndian.Uint16(nums[0:2]),
				Weight:   binary.BigEndian.Uint16(nums[2:4]),
				Port:     binary.BigEndian.Uint16(nums[4:6]),
				Target:   target,
			}, nil
		},
		func(pk *packer, r RData) error {
			s := r.(RDataSRV)
			pk.writeUint16(s.Priority)
			pk.writeUint16(s.Weight)
			pk.writeUint16(s.Port)
			// SRV targets are not compressed per RFC 2782 guidance; packed
			// literally to avoid ambiguity with older resolvers.
			return pk.packNameUncompressed(s.Target)
		})

	registerRData(TypeTXT,
		func(p *Parser, off, rdlength int) (RData, error) {
			end := off + rdlength
			var out []byte
			cur := off
			for cur < end {
				n, err := p.byteAt(cur)
				if err != nil {
					return nil, err
				}
				cur++
				chunk, err := p.bytesAt(cur, int(n))
				if err != nil {
					return nil, err
				}
				out = append(out, chunk...)
				cur += int(n)
			}
			return RDataTXT{Text: out}, nil
		},
		func(pk *packer, r RData) error {
			text := r.(RDataTXT).Text
			for len(text) > 255 {
				pk.writeByte(255)
				pk.writeBytes(text[:255])
				text = text[255:]
			}
			pk.writeByte(byte(len(text)))
			pk.writeBytes(text)
			return nil
		})

	registerRData(TypeNAPTR,
		func(p *Parser, off, rdlength int) (RData, error) {
			nums, err := p.bytesAt(off, 4)
			if err != nil {
				return nil, err
			}
			cur := off + 4
			flags, cur, err := p.charString(cur)
			if err != nil {
				return nil, err
			}
			service, cur, err := p.charString(cur)
			if err != nil {
				return nil, err
			}
			regexp, cur, err := p.charString(cur)
			if err != nil {
				return nil, err
			}
			replacement, _, err := p.parseNameAt(cur)
			if err != nil {
				return nil, err
			}
			return RDataNAPTR{
				Order:       binary.BigEndian.Uint16(nums[0:2]),
				Preference:  binary.BigEndian.Uint16(nums[2:4]),
				Flags:       flags,
				Service:     service,
				Regexp:      regexp,
				Replacement: replacement,
			}, nil
		},
		func(pk *packer, r RData) error {
			n := r.(RDataNAPTR)
			pk.writeUint16(n.Order)
			pk.writeUint16(n.Preference)
			pk.writeCharString(n.Flags)
			pk.writeCharString(n.Service)
			pk.writeCharString(n.Regexp)
			return pk.packNameUncompressed(n.Replacement)
		})
}

// loadRData dispatches to the registered loader for qtype, falling back
// to an opaque-bytes Unknown variant.
func loadRData(p *Parser, qtype QType, off, rdlength int) (RData, error) {
	if loader, ok := rdataLoaders[qtype]; ok {
		return loader(p, off, rdlength)
	}
	raw, err := p.bytesAt(off, rdlength)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return RDataUnknown{QType: qtype, Raw: cp}, nil
}

// dumpRData dispatches to the registered dumper, falling back to writing
// an Unknown variant's raw bytes verbatim.
func dumpRData(pk *packer, r RData) error {
	if dumper, ok := rdataDumpers[r.Type()]; ok {
		return dumper(pk, r)
	}
	if u, ok := r.(RDataUnknown); ok {
		pk.writeBytes(u.Raw)
		return nil
	}
	return fmt.Errorf("%w: no dumper registered for %s", ErrFormat, r.Type())
}
