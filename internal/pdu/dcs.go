package pdu

import "fmt"

// Encoding is the alphabet of the user data.
type Encoding int

const (
	Encoding7Bit Encoding = iota
	Encoding8Bit
	EncodingUCS2
)

func (e Encoding) String() string {
	switch e {
	case Encoding7Bit:
		return "7bit"
	case Encoding8Bit:
		return "8bit"
	case EncodingUCS2:
		return "ucs2"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// ParseEncoding accepts the names produced by String.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "7bit", "gsm7":
		return Encoding7Bit, nil
	case "8bit", "binary":
		return Encoding8Bit, nil
	case "ucs2", "ucs-2", "unicode":
		return EncodingUCS2, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
}

// DCS is a decoded data coding scheme octet.
type DCS struct {
	Raw        byte     `json:"raw"`
	Encoding   Encoding `json:"encoding"`
	Class      int      `json:"class"` // -1 when no message class is set
	Compressed bool     `json:"compressed"`
}

// EncodeDCS returns the data coding scheme octet for enc with no message class.
func EncodeDCS(enc Encoding) byte {
	switch enc {
	case Encoding8Bit:
		return 0x04
	case EncodingUCS2:
		return 0x08
	}
	return 0x00
}

// DecodeDCS interprets the general data coding and message waiting groups.
// Reserved groups are treated as 7-bit.
func DecodeDCS(b byte) DCS {
	d := DCS{Raw: b, Class: -1}
	switch {
	case b&0x80 == 0: // 00xx and 01xx: general data coding
		d.Compressed = b&0x20 != 0
		if b&0x10 != 0 {
			d.Class = int(b & 0x03)
		}
		switch (b >> 2) & 0x03 {
		case 1:
			d.Encoding = Encoding8Bit
		case 2:
			d.Encoding = EncodingUCS2
		}
	case b&0xF0 == 0xF0: // data coding / message class
		d.Class = int(b & 0x03)
		if b&0x04 != 0 {
			d.Encoding = Encoding8Bit
		}
	case b&0xF0 == 0xE0: // message waiting, UCS-2
		d.Encoding = EncodingUCS2
	}
	return d
}
