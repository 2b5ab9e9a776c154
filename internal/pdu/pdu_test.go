package pdu_test

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pccr10001/gsmlink/internal/pdu"
	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/tpdu"
)

const (
	// Deliver from +447700900123, part 1 of 2, reference 42.
	concatPart1 = "00440C91447700091032000042109121436500160500032A0201A061391DF47697416F33887E7F03"
	concatPart2 = "00440C91447700091032000042109121436500130500032A0202C26E32081E96D341F4FB1B"
	ucs2Deliver = "00040C914477000910320008421091214365001A006800E9006C006C006F0020007700F60072006C006400202603"
	statusRep   = "00062A0A912143658709421091214365004210912153018000"
)

func TestPackUnpack(t *testing.T) {
	septets := pdu.ToSeptets("hellohello")
	packed := pdu.Pack(septets)
	if got := strings.ToUpper(hex.EncodeToString(packed)); got != "E8329BFD4697D9EC37" {
		t.Fatalf("Pack() = %s", got)
	}
	if got := pdu.FromSeptets(pdu.Unpack(packed, len(septets))); got != "hellohello" {
		t.Fatalf("Unpack() = %q", got)
	}
}

func TestSeptetsExtension(t *testing.T) {
	text := "{[€]}|^~\\"
	septets := pdu.ToSeptets(text)
	if len(septets) != 2*len([]rune(text)) {
		t.Fatalf("extension characters should take two septets, got %d", len(septets))
	}
	if got := pdu.FromSeptets(septets); got != text {
		t.Fatalf("FromSeptets() = %q, want %q", got, text)
	}
	if got := pdu.FromSeptets(pdu.ToSeptets("日本")); got != "??" {
		t.Fatalf("unmapped characters = %q, want ??", got)
	}
}

func TestEncodeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1234567890", "0A912143658709"},
		{"12345", "05812143F5"},
		{"+447700900123", "0C91447700091032"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, err := pdu.EncodeAddress(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got := strings.ToUpper(hex.EncodeToString(b)); got != tt.want {
				t.Errorf("EncodeAddress(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
	if _, err := pdu.EncodeAddress("12a4"); !errors.Is(err, pdu.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestEncodeSingle(t *testing.T) {
	tests := []struct {
		name     string
		validity time.Duration
		report   bool
		want     string
	}{
		{"plain", 0, false, "0001000A91214365870900000AE8329BFD4697D9EC37"},
		{"validity and report", 24 * time.Hour, true, "0031000A9121436587090000A70AE8329BFD4697D9EC37"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdus, err := pdu.Encode("+1234567890", "hellohello", pdu.Encoding7Bit, tt.validity, tt.report)
			if err != nil {
				t.Fatal(err)
			}
			if len(pdus) != 1 || pdus[0] != tt.want {
				t.Fatalf("Encode() = %v, want [%s]", pdus, tt.want)
			}
			if n := pdu.SubmitLength(pdus[0]); n != len(tt.want)/2-1 {
				t.Errorf("SubmitLength() = %d", n)
			}
		})
	}
}

func TestValidity(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		in   time.Duration
		want byte
	}{
		{5 * time.Minute, 0},
		{time.Minute, 0},
		{12 * time.Hour, 143},
		{13 * time.Hour, 145},
		{day, 167},
		{2 * day, 168},
		{7 * day, 173},
		{30 * day, 196},
		{35 * day, 197},
		{441 * day, 255},
	}
	for _, tt := range tests {
		got, err := pdu.EncodeValidity(tt.in)
		if err != nil {
			t.Fatalf("EncodeValidity(%v): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("EncodeValidity(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if _, err := pdu.EncodeValidity(442 * day); !errors.Is(err, pdu.ErrValidityRange) {
		t.Errorf("442 days: expected ErrValidityRange, got %v", err)
	}
	for _, vp := range []byte{0, 143, 167, 196, 197, 255} {
		back, err := pdu.EncodeValidity(pdu.DecodeValidity(vp))
		if err != nil || back != vp {
			t.Errorf("validity %d did not survive a round trip: %d, %v", vp, back, err)
		}
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	zones := []int{0, 8 * 3600, -(3*3600 + 45*60), 5*3600 + 30*60}
	for _, offset := range zones {
		in := time.Date(2024, time.February, 29, 23, 59, 7, 0, time.FixedZone("", offset))
		b := pdu.EncodeTimestamp(in)
		out, err := pdu.DecodeTimestamp(b[:])
		if err != nil {
			t.Fatal(err)
		}
		if !out.Equal(in) {
			t.Errorf("offset %d: got %v, want %v", offset, out, in)
		}
		if _, got := out.Zone(); got != offset {
			t.Errorf("offset %d: zone came back as %d", offset, got)
		}
	}
}

func TestDecodeDeliver(t *testing.T) {
	m, err := pdu.Decode("07917283010010F5040BC87238880900F10000993092516195800AE8329BFD4697D9EC37")
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != pdu.TypeDeliver {
		t.Errorf("Type = %v", m.Type)
	}
	if m.SMSC.String() != "+27381000015" {
		t.Errorf("SMSC = %s", m.SMSC)
	}
	if m.Address.String() != "27838890001" {
		t.Errorf("Address = %s", m.Address)
	}
	if m.Text != "hellohello" {
		t.Errorf("Text = %q", m.Text)
	}
	ts := m.Timestamp
	if ts.Month() != time.March || ts.Day() != 29 || ts.Hour() != 15 || ts.Minute() != 16 || ts.Second() != 59 {
		t.Errorf("Timestamp = %v", ts)
	}
	if _, offset := ts.Zone(); offset != 2*3600 {
		t.Errorf("zone offset = %d", offset)
	}
}

func TestDecodeConcat(t *testing.T) {
	for i, raw := range []string{concatPart1, concatPart2} {
		m, err := pdu.Decode(raw)
		if err != nil {
			t.Fatal(err)
		}
		if m.Concat == nil {
			t.Fatalf("part %d: missing concat info", i+1)
		}
		if *m.Concat != (pdu.ConcatInfo{Reference: 42, Total: 2, Part: i + 1}) {
			t.Errorf("part %d: Concat = %+v", i+1, *m.Concat)
		}
		if len(m.UnsupportedElements()) != 0 {
			t.Errorf("part %d: unexpected unsupported elements", i+1)
		}
	}
	m, _ := pdu.Decode(concatPart1)
	if m.Text != "Part one of two" {
		t.Errorf("Text = %q", m.Text)
	}
}

func TestDecodeUCS2(t *testing.T) {
	m, err := pdu.Decode(ucs2Deliver)
	if err != nil {
		t.Fatal(err)
	}
	if m.DCS.Encoding != pdu.EncodingUCS2 {
		t.Errorf("Encoding = %v", m.DCS.Encoding)
	}
	if m.Text != "héllo wörld ☃" {
		t.Errorf("Text = %q", m.Text)
	}
}

func TestDecodeStatusReport(t *testing.T) {
	m, err := pdu.Decode(statusRep)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != pdu.TypeStatusReport {
		t.Fatalf("Type = %v", m.Type)
	}
	if m.MessageReference != 42 || m.Address.String() != "+1234567890" || !m.Delivered() {
		t.Errorf("unexpected report %+v", m)
	}
	if got := m.DischargeTime.Sub(m.Timestamp); got != -(2*time.Hour - 14*time.Second) {
		t.Errorf("discharge - scts = %v", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := pdu.Decode("ZZ"); !errors.Is(err, pdu.ErrInvalidHex) {
		t.Errorf("expected ErrInvalidHex, got %v", err)
	}
	if _, err := pdu.Decode(concatPart1[:30]); !errors.Is(err, pdu.ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

// The same bytes must decode identically with warthog618/sms.
func TestDecodeMatchesReference(t *testing.T) {
	for _, raw := range []string{concatPart1, concatPart2, ucs2Deliver} {
		ours, err := pdu.Decode(raw)
		if err != nil {
			t.Fatal(err)
		}
		b, _ := hex.DecodeString(raw)
		msg, err := sms.Unmarshal(b[1+int(b[0]):])
		if err != nil {
			t.Fatal(err)
		}
		alphabet, err := msg.DCS.Alphabet()
		if err != nil {
			t.Fatal(err)
		}
		ud, err := tpdu.DecodeUserData(msg.UD, msg.UDH, alphabet)
		if err != nil {
			t.Fatal(err)
		}
		if string(ud) != ours.Text {
			t.Errorf("text %q, reference %q", ours.Text, ud)
		}
		if msg.OA.Number() != ours.Address.String() {
			t.Errorf("address %q, reference %q", ours.Address.String(), msg.OA.Number())
		}
		if !msg.SCTS.Time.Equal(ours.Timestamp) {
			t.Errorf("timestamp %v, reference %v", ours.Timestamp, msg.SCTS.Time)
		}
	}
}

func TestSegmentation(t *testing.T) {
	tests := []struct {
		enc   pdu.Encoding
		chars int
		parts int
	}{
		{pdu.Encoding7Bit, 160, 1},
		{pdu.Encoding7Bit, 161, 2},
		{pdu.Encoding7Bit, 304, 2},
		{pdu.Encoding7Bit, 305, 3},
		{pdu.Encoding8Bit, 140, 1},
		{pdu.Encoding8Bit, 141, 2},
		{pdu.EncodingUCS2, 70, 1},
		{pdu.EncodingUCS2, 71, 2},
		{pdu.EncodingUCS2, 133, 3},
	}
	for _, tt := range tests {
		t.Run(tt.enc.String(), func(t *testing.T) {
			pdus, err := pdu.Encode("+1234567890", strings.Repeat("a", tt.chars), tt.enc, 0, false)
			if err != nil {
				t.Fatal(err)
			}
			if len(pdus) != tt.parts {
				t.Errorf("%d chars: %d parts, want %d", tt.chars, len(pdus), tt.parts)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		enc  pdu.Encoding
		text string
	}{
		{pdu.Encoding7Bit, "Hello, world! @£$ {€} ÄÖÜ"},
		{pdu.Encoding7Bit, strings.Repeat("The quick brown fox jumps over the lazy dog. ", 9)},
		{pdu.Encoding8Bit, "binary\x00\x01\x02 payload"},
		{pdu.Encoding8Bit, strings.Repeat("0123456789", 30)},
		{pdu.EncodingUCS2, "こんにちは世界"},
		{pdu.EncodingUCS2, strings.Repeat("Ünïcødé Ωmega ", 12)},
	}
	for _, tt := range tests {
		t.Run(tt.enc.String(), func(t *testing.T) {
			pdus, err := pdu.Encode("+447700900123", tt.text, tt.enc, time.Hour, false)
			if err != nil {
				t.Fatal(err)
			}
			var sb strings.Builder
			var ref int
			for i, raw := range pdus {
				m, err := pdu.Decode(raw)
				if err != nil {
					t.Fatalf("part %d: %v", i+1, err)
				}
				if m.Type != pdu.TypeSubmit || m.Address.String() != "+447700900123" {
					t.Fatalf("part %d: %+v", i+1, m)
				}
				if m.Validity != time.Hour {
					t.Errorf("part %d: validity %v", i+1, m.Validity)
				}
				if len(pdus) > 1 {
					if m.Concat == nil || m.Concat.Part != i+1 || m.Concat.Total != len(pdus) {
						t.Fatalf("part %d: concat %+v", i+1, m.Concat)
					}
					if i == 0 {
						ref = m.Concat.Reference
					} else if m.Concat.Reference != ref {
						t.Errorf("part %d: reference %d, want %d", i+1, m.Concat.Reference, ref)
					}
				}
				sb.WriteString(m.Text)
			}
			if sb.String() != tt.text {
				t.Errorf("round trip = %q, want %q", sb.String(), tt.text)
			}
		})
	}
}

func TestRoundTripExtensionCharacters(t *testing.T) {
	tests := []struct {
		text  string
		parts int
	}{
		{strings.Repeat("€", 80), 1},
		{strings.Repeat("€", 81), 2},
		{strings.Repeat("€", 128), 2},
		{strings.Repeat("€", 160), 3},
		{strings.Repeat("{", 300), 4},
		{strings.Repeat("a", 151) + "€", 1},
		{strings.Repeat("a", 159) + "€", 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d runes", len([]rune(tt.text))), func(t *testing.T) {
			pdus, err := pdu.Encode("+447700900123", tt.text, pdu.Encoding7Bit, 0, false)
			if err != nil {
				t.Fatal(err)
			}
			if len(pdus) != tt.parts {
				t.Fatalf("%d parts, want %d", len(pdus), tt.parts)
			}
			var sb strings.Builder
			for i, raw := range pdus {
				if n := pdu.SubmitLength(raw); n > 13+140 {
					t.Errorf("part %d: TPDU of %d octets", i+1, n)
				}
				m, err := pdu.Decode(raw)
				if err != nil {
					t.Fatalf("part %d: %v", i+1, err)
				}
				sb.WriteString(m.Text)
			}
			if sb.String() != tt.text {
				t.Errorf("round trip lost text: got %d runes, want %d", len([]rune(sb.String())), len([]rune(tt.text)))
			}
		})
	}
}

func TestSeptetCount(t *testing.T) {
	if n := pdu.SeptetCount("a€{日"); n != 6 {
		t.Errorf("SeptetCount = %d, want 6", n)
	}
}

func TestParseEncoding(t *testing.T) {
	for _, e := range []pdu.Encoding{pdu.Encoding7Bit, pdu.Encoding8Bit, pdu.EncodingUCS2} {
		got, err := pdu.ParseEncoding(e.String())
		if err != nil || got != e {
			t.Errorf("ParseEncoding(%q) = %v, %v", e.String(), got, err)
		}
	}
	if _, err := pdu.ParseEncoding("ebcdic"); !errors.Is(err, pdu.ErrUnknownEncoding) {
		t.Errorf("expected ErrUnknownEncoding, got %v", err)
	}
}
