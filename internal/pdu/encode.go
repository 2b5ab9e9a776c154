package pdu

import (
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf16"

	"github.com/warthog618/sms/encoding/ucs2"
)

// Capacity of a single message and of each part of a multi-part message,
// in septets for 7-bit, octets for 8-bit and 16-bit units for UCS-2.
const (
	Single7Bit = 160
	Single8Bit = 140
	SingleUCS2 = 70
	Part7Bit   = 152
	Part8Bit   = 133
	PartUCS2   = 66
)

// maxUserData is the TP-UD limit in octets; 160 septets pack into it.
const maxUserData = 140

var concatReference atomic.Uint32

// nextReference returns the reference shared by the parts of one
// multi-part message.
func nextReference() byte {
	return byte(concatReference.Add(1))
}

// Encode builds SMS-SUBMIT PDUs for message, one per part. Each PDU is hex
// with an empty service centre prefix so the modem uses the SIM default.
// A zero validity omits the validity period field.
func Encode(address, message string, enc Encoding, validity time.Duration, statusReport bool) ([]string, error) {
	da, err := EncodeAddress(address)
	if err != nil {
		return nil, err
	}
	fo := byte(TypeSubmit)
	var vp []byte
	if validity > 0 {
		v, err := EncodeValidity(validity)
		if err != nil {
			return nil, err
		}
		fo |= 0x10
		vp = []byte{v}
	}
	if statusReport {
		fo |= flagStatusReport
	}

	parts := split(message, enc)
	if len(parts) > 255 {
		return nil, ErrMessageTooLong
	}
	var ref byte
	if len(parts) > 1 {
		fo |= flagUDHI
		ref = nextReference()
	}

	out := make([]string, 0, len(parts))
	for i, part := range parts {
		var udh []byte
		if len(parts) > 1 {
			udh = concatHeader(ref, len(parts), i+1)
		}
		udl, ud := userData(part, enc, udh)
		if len(ud) > maxUserData {
			return nil, ErrMessageTooLong
		}

		b := make([]byte, 0, 16+len(da)+len(ud))
		b = append(b, 0x00, fo, 0x00)
		b = append(b, da...)
		b = append(b, 0x00, EncodeDCS(enc))
		b = append(b, vp...)
		b = append(b, udl)
		b = append(b, ud...)
		out = append(out, strings.ToUpper(hex.EncodeToString(b)))
	}
	return out, nil
}

// EncodingFor picks the 7-bit alphabet when text fits it and UCS-2
// otherwise.
func EncodingFor(text string) Encoding {
	if IsGSM7(text) {
		return Encoding7Bit
	}
	return EncodingUCS2
}

// SubmitLength is the octet count AT+CMGS expects for a PDU built by Encode:
// everything after the service centre prefix.
func SubmitLength(pdu string) int {
	b, err := hex.DecodeString(pdu)
	if err != nil || len(b) == 0 {
		return 0
	}
	return len(b) - 1 - int(b[0])
}

// userData renders the user data length octet and the user data, header
// included.
func userData(part string, enc Encoding, udh []byte) (byte, []byte) {
	switch enc {
	case Encoding7Bit:
		pad := paddingSeptets(len(udh))
		septets := make([]byte, pad, pad+len(part))
		septets = append(septets, ToSeptets(part)...)
		packed := Pack(septets)
		copy(packed, udh)
		return byte(len(septets)), packed
	case EncodingUCS2:
		ud := append(udh, ucs2.Encode([]rune(part))...)
		return byte(len(ud)), ud
	}
	ud := append(udh, part...)
	return byte(len(ud)), ud
}

// split cuts message into parts that fit the capacity of enc. An extension
// character costs two septets and is never cut from its escape.
func split(message string, enc Encoding) []string {
	switch enc {
	case Encoding7Bit:
		return splitRunes(message, Single7Bit, Part7Bit, func(r rune) int { return max(septetWidth(r), 1) })
	case EncodingUCS2:
		return splitRunes(message, SingleUCS2, PartUCS2, func(r rune) int {
			if utf16.IsSurrogate(r) || r > 0xFFFF {
				return 2
			}
			return 1
		})
	}
	return splitBytes(message, Single8Bit, Part8Bit)
}

func splitRunes(message string, single, part int, width func(rune) int) []string {
	runes := []rune(message)
	total := 0
	for _, r := range runes {
		total += width(r)
	}
	if total <= single {
		return []string{message}
	}
	var parts []string
	start, used := 0, 0
	for i, r := range runes {
		w := width(r)
		if used+w > part {
			parts = append(parts, string(runes[start:i]))
			start, used = i, 0
		}
		used += w
	}
	return append(parts, string(runes[start:]))
}

func splitBytes(message string, single, part int) []string {
	if len(message) <= single {
		return []string{message}
	}
	var parts []string
	for len(message) > part {
		parts = append(parts, message[:part])
		message = message[part:]
	}
	return append(parts, message)
}
