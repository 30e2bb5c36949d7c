package wire

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackParseRoundTrip(t *testing.T) {
	msg := &Message{
		ID:       0x1234,
		Flags:    Flags{QR: true, RD: true, RA: true, Rcode: RcodeSuccess},
		Question: []Question{{Name: "www.example.com", QType: TypeA, QClass: ClassIN}},
		Answer: []Record{
			{Kind: RESPONSE, Name: "www.example.com", QType: TypeA, QClass: ClassIN, TTL: 300,
				Data: RDataA{IP: net.ParseIP("93.184.216.34")}},
			{Kind: RESPONSE, Name: "www.example.com", QType: TypeCNAME, QClass: ClassIN, TTL: 300,
				Data: RDataCNAME{Name: "example.com"}},
		},
		Authority: []Record{
			{Kind: RESPONSE, Name: "example.com", QType: TypeNS, QClass: ClassIN, TTL: 3600,
				Data: RDataNS{Name: "ns1.example.com"}},
		},
	}

	buf, err := PackMessage(msg, 0)
	require.NoError(t, err)

	out, err := NewParser(buf).Parse()
	require.NoError(t, err)

	assert.Equal(t, msg.ID, out.ID)
	assert.True(t, out.Flags.QR)
	assert.True(t, out.Flags.RA)
	require.Len(t, out.Question, 1)
	assert.Equal(t, "www.example.com", out.Question[0].Name)
	require.Len(t, out.Answer, 2)
	assert.Equal(t, "93.184.216.34", out.Answer[0].Data.(RDataA).IP.String())
	assert.Equal(t, "example.com", out.Answer[1].Data.(RDataCNAME).Name)
	require.Len(t, out.Authority, 1)
	assert.Equal(t, "ns1.example.com", out.Authority[0].Data.(RDataNS).Name)
}

func TestPackUnknownRDataRoundTripsOpaque(t *testing.T) {
	msg := &Message{
		ID:       1,
		Question: []Question{{Name: "example.com", QType: 65, QClass: ClassIN}},
		Answer: []Record{
			{Kind: RESPONSE, Name: "example.com", QType: 65, QClass: ClassIN, TTL: 60,
				Data: RDataUnknown{QType: 65, Raw: []byte{0x01, 0x02, 0x03}}},
		},
	}
	buf, err := PackMessage(msg, 0)
	require.NoError(t, err)

	out, err := NewParser(buf).Parse()
	require.NoError(t, err)
	require.Len(t, out.Answer, 1)
	u, ok := out.Answer[0].Data.(RDataUnknown)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, u.Raw)
}

func TestPackReusesCompressionPointers(t *testing.T) {
	msg := &Message{
		ID:       2,
		Question: []Question{{Name: "www.example.com", QType: TypeA, QClass: ClassIN}},
		Answer: []Record{
			{Kind: RESPONSE, Name: "www.example.com", QType: TypeA, QClass: ClassIN, TTL: 60,
				Data: RDataA{IP: net.ParseIP("1.2.3.4")}},
		},
		Authority: []Record{
			{Kind: RESPONSE, Name: "example.com", QType: TypeNS, QClass: ClassIN, TTL: 60,
				Data: RDataNS{Name: "ns1.example.com"}},
		},
	}
	buf, err := PackMessage(msg, 0)
	require.NoError(t, err)

	unc := newPacker()
	require.NoError(t, unc.packNameUncompressed("www.example.com"))
	require.NoError(t, unc.packNameUncompressed("www.example.com"))
	require.NoError(t, unc.packNameUncompressed("example.com"))
	require.NoError(t, unc.packNameUncompressed("ns1.example.com"))
	// Bytes other than names: qtype/qclass, two RR fixed parts, A rdata.
	nonName := 4 + 10 + 10 + 4

	assert.Less(t, len(buf), headerSize+nonName+len(unc.buf),
		"compressed message should be smaller than the same message with every name uncompressed")

	out, err := NewParser(buf).Parse()
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", out.Question[0].Name)
	assert.Equal(t, "ns1.example.com", out.Authority[0].Data.(RDataNS).Name)
}

func TestParseRejectsPointerLoop(t *testing.T) {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[4:6], 1) // QDCount = 1

	// A question name consisting solely of a pointer to itself. parseNameAt
	// rejects this because the pointer target is not strictly backward of
	// the name's own start offset.
	loopOff := len(buf)
	buf = append(buf, 0xC0|byte(loopOff>>8), byte(loopOff))
	buf = append(buf, 0, 0, 1, 0, 1) // QTYPE=A, QCLASS=IN (never reached)

	_, err := NewParser(buf).Parse()
	require.Error(t, err)
}

func TestPackMessageTruncatesAndSetsTC(t *testing.T) {
	var answers []Record
	for i := 0; i < 200; i++ {
		answers = append(answers, Record{
			Kind: RESPONSE, Name: "flood.example.com", QType: TypeTXT, QClass: ClassIN, TTL: 60,
			Data: RDataTXT{Text: []byte("padding-to-make-this-record-reasonably-large-0123456789")},
		})
	}
	msg := &Message{
		ID:       3,
		Question: []Question{{Name: "flood.example.com", QType: TypeTXT, QClass: ClassIN}},
		Answer:   answers,
	}

	buf, err := PackMessage(msg, 512)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(buf), 512)

	out, err := NewParser(buf).Parse()
	require.NoError(t, err)
	assert.True(t, out.Flags.TC)
	assert.Less(t, len(out.Answer), len(answers))
}

func TestHashQueryStableAndCaseInsensitive(t *testing.T) {
	a := HashQuery("WWW.Example.COM", TypeA, ClassIN)
	b := HashQuery("www.example.com", TypeA, ClassIN)
	assert.Equal(t, a, b)

	c := HashQuery("www.example.com", TypeAAAA, ClassIN)
	assert.NotEqual(t, a, c)
}
