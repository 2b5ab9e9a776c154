package pdu

import (
	"fmt"
	"strings"
)

const (
	TypeInternational byte = 0x91
	TypeNational      byte = 0x81
	typeAlphanumeric  byte = 0x50 // type-of-number bits 101
)

// Address is an originator, destination or recipient address.
type Address struct {
	Type   byte   `json:"type"`
	Number string `json:"number"`
}

// String returns the number with a leading '+' when it is international.
func (a Address) String() string {
	if a.Type&0x70 == TypeInternational&0x70 && a.Number != "" {
		return "+" + a.Number
	}
	return a.Number
}

// EncodeAddress renders a destination address: digit count, type octet and
// the digits as swapped BCD, padded with F when the count is odd.
func EncodeAddress(number string) ([]byte, error) {
	typ := TypeNational
	if strings.HasPrefix(number, "+") {
		typ = TypeInternational
		number = number[1:]
	}
	if number == "" {
		return nil, ErrInvalidAddress
	}
	bcd, err := encodeSemiOctets(number)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(len(number)), typ}, bcd...), nil
}

// decodeAddress reads an address field whose length octet counts digits.
// It returns the address and the number of octets consumed.
func decodeAddress(b []byte) (Address, int, error) {
	if len(b) < 2 {
		return Address{}, 0, ErrTruncated
	}
	digits := int(b[0])
	size := 2 + (digits+1)/2
	if len(b) < size {
		return Address{}, 0, ErrTruncated
	}
	a := Address{Type: b[1]}
	if a.Type&0x70 == typeAlphanumeric {
		septets := Unpack(b[2:size], digits*4/7)
		a.Number = FromSeptets(septets)
		return a, size, nil
	}
	a.Number = decodeSemiOctets(b[2:size], digits)
	return a, size, nil
}

// decodeSMSC reads the service centre prefix of a PDU, whose length octet
// counts octets rather than digits.
func decodeSMSC(b []byte) (Address, int, error) {
	if len(b) < 1 {
		return Address{}, 0, ErrTruncated
	}
	n := int(b[0])
	if n == 0 {
		return Address{}, 1, nil
	}
	if len(b) < n+1 {
		return Address{}, 0, ErrTruncated
	}
	a := Address{Type: b[1], Number: decodeSemiOctets(b[2:n+1], (n-1)*2)}
	return a, n + 1, nil
}

func encodeSemiOctets(digits string) ([]byte, error) {
	out := make([]byte, 0, (len(digits)+1)/2)
	for i := 0; i < len(digits); i += 2 {
		lo, err := semiOctet(digits[i])
		if err != nil {
			return nil, err
		}
		hi := byte(0x0F)
		if i+1 < len(digits) {
			if hi, err = semiOctet(digits[i+1]); err != nil {
				return nil, err
			}
		}
		out = append(out, hi<<4|lo)
	}
	return out, nil
}

func decodeSemiOctets(b []byte, digits int) string {
	var sb strings.Builder
	for _, o := range b {
		for _, n := range [2]byte{o & 0x0F, o >> 4} {
			if sb.Len() >= digits || n == 0x0F {
				continue
			}
			sb.WriteByte(semiOctetChars[n])
		}
	}
	return sb.String()
}

const semiOctetChars = "0123456789*#abcF"

func semiOctet(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c == '*':
		return 0x0A, nil
	case c == '#':
		return 0x0B, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, c)
}
