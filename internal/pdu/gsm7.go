package pdu

import "github.com/warthog618/sms/encoding/gsm7/charset"

const (
	septetEscape   = 0x1B
	septetQuestion = 0x3F
	septetPadding  = 0x00 // '@'
)

// GSM 03.38 default alphabet and extension table. The charset accessors
// fill their maps lazily, so they are resolved once here.
var (
	gsm7Encode    = charset.DefaultEncoder()
	gsm7EncodeExt = charset.DefaultExtEncoder()
	gsm7Decode    = charset.DefaultDecoder()
	gsm7DecodeExt = charset.DefaultExtDecoder()
)

// septetWidth is the number of septets r takes in the default alphabet, or 0
// when it has no encoding.
func septetWidth(r rune) int {
	if r == septetEscape {
		return 0
	}
	if _, ok := gsm7Encode[r]; ok {
		return 1
	}
	if _, ok := gsm7EncodeExt[r]; ok {
		return 2
	}
	return 0
}

// ToSeptets maps text onto GSM 7-bit septets. Extension characters take two
// septets. Characters outside the alphabet become '?'.
func ToSeptets(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		switch septetWidth(r) {
		case 1:
			out = append(out, gsm7Encode[r])
		case 2:
			out = append(out, septetEscape, gsm7EncodeExt[r])
		default:
			out = append(out, septetQuestion)
		}
	}
	return out
}

// SeptetCount is len(ToSeptets(text)).
func SeptetCount(text string) int {
	n := 0
	for _, r := range text {
		n += max(septetWidth(r), 1)
	}
	return n
}

// FromSeptets is the inverse of ToSeptets. An escape followed by a septet
// missing from the extension table decodes through the default alphabet.
func FromSeptets(septets []byte) string {
	out := make([]rune, 0, len(septets))
	for i := 0; i < len(septets); i++ {
		s := septets[i] & 0x7F
		if s != septetEscape {
			out = append(out, gsm7Decode[s])
			continue
		}
		i++
		if i >= len(septets) {
			break
		}
		code := septets[i] & 0x7F
		if r, ok := gsm7DecodeExt[code]; ok {
			out = append(out, r)
		} else {
			out = append(out, gsm7Decode[code])
		}
	}
	return string(out)
}

// IsGSM7 reports whether every character of text has a GSM 7-bit encoding.
func IsGSM7(text string) bool {
	for _, r := range text {
		if septetWidth(r) == 0 {
			return false
		}
	}
	return true
}

// Pack packs septets into octets, eight septets per seven octets, least
// significant bit first.
func Pack(septets []byte) []byte {
	out := make([]byte, (len(septets)*7+7)/8)
	for i, s := range septets {
		s &= 0x7F
		bit := i * 7
		idx, shift := bit/8, uint(bit%8)
		out[idx] |= s << shift
		if shift > 1 {
			out[idx+1] |= s >> (8 - shift)
		}
	}
	return out
}

// Unpack extracts count septets from packed octets.
func Unpack(octets []byte, count int) []byte {
	if limit := len(octets) * 8 / 7; count > limit {
		count = limit
	}
	out := make([]byte, count)
	for i := range out {
		bit := i * 7
		idx, shift := bit/8, uint(bit%8)
		v := octets[idx] >> shift
		if shift > 1 && idx+1 < len(octets) {
			v |= octets[idx+1] << (8 - shift)
		}
		out[i] = v & 0x7F
	}
	return out
}

// paddingSeptets returns how many septets cover a user data header of
// udhOctets octets, so that text packed after them starts on a septet
// boundary.
func paddingSeptets(udhOctets int) int {
	return (udhOctets*8 + 6) / 7
}
