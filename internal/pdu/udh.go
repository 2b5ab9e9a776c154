package pdu

import "encoding/binary"

const (
	ieConcat8  byte = 0x00
	ieConcat16 byte = 0x08
)

// InformationElement is one element of a user data header.
type InformationElement struct {
	ID   byte   `json:"id"`
	Data []byte `json:"data"`
}

// Supported reports whether the element is interpreted by this package.
// Only the concatenation elements are.
func (ie InformationElement) Supported() bool {
	return ie.ID == ieConcat8 || ie.ID == ieConcat16
}

// ConcatInfo identifies one part of a multi-part message.
type ConcatInfo struct {
	Reference int `json:"reference"`
	Total     int `json:"total"`
	Part      int `json:"part"`
}

// parseUDH splits a user data header (without its length octet) into
// information elements.
func parseUDH(b []byte) ([]InformationElement, error) {
	var ies []InformationElement
	for len(b) > 0 {
		if len(b) < 2 || len(b) < 2+int(b[1]) {
			return nil, ErrBadUDH
		}
		n := int(b[1])
		ies = append(ies, InformationElement{ID: b[0], Data: append([]byte(nil), b[2:2+n]...)})
		b = b[2+n:]
	}
	return ies, nil
}

// concatFrom returns the concatenation element, if any.
func concatFrom(ies []InformationElement) *ConcatInfo {
	for _, ie := range ies {
		switch {
		case ie.ID == ieConcat8 && len(ie.Data) == 3:
			return &ConcatInfo{Reference: int(ie.Data[0]), Total: int(ie.Data[1]), Part: int(ie.Data[2])}
		case ie.ID == ieConcat16 && len(ie.Data) == 4:
			return &ConcatInfo{
				Reference: int(binary.BigEndian.Uint16(ie.Data[:2])),
				Total:     int(ie.Data[2]),
				Part:      int(ie.Data[3]),
			}
		}
	}
	return nil
}

// concatHeader renders a user data header carrying an 8-bit reference
// concatenation element, including the header length octet.
func concatHeader(ref byte, total, part int) []byte {
	return []byte{0x05, ieConcat8, 0x03, ref, byte(total), byte(part)}
}
