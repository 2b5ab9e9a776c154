// Package pdu encodes and decodes SMS messages in the 3GPP TS 23.040 PDU
// format used by modems in PDU mode (AT+CMGF=0).
package pdu

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warthog618/sms/encoding/ucs2"
)

var (
	ErrTruncated       = errors.New("pdu truncated")
	ErrInvalidHex      = errors.New("pdu is not valid hex")
	ErrInvalidBCD      = errors.New("invalid BCD octet")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrBadUDH          = errors.New("malformed user data header")
	ErrUnknownEncoding = errors.New("unknown encoding")
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrValidityRange   = errors.New("validity period out of range")
	ErrMessageTooLong  = errors.New("message too long for SMS")
)

// Type is the message type indicator.
type Type byte

const (
	TypeDeliver      Type = 0
	TypeSubmit       Type = 1
	TypeStatusReport Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeDeliver:
		return "deliver"
	case TypeSubmit:
		return "submit"
	case TypeStatusReport:
		return "status-report"
	}
	return fmt.Sprintf("Type(%d)", byte(t))
}

const (
	flagMoreMessages byte = 0x04 // deliver and status report, inverted on the wire
	flagVPFMask      byte = 0x18
	flagStatusReport byte = 0x20 // SRR on submit, SRI on deliver, SRQ on status report
	flagUDHI         byte = 0x40
	flagReplyPath    byte = 0x80
)

// Message is a decoded SMS PDU.
type Message struct {
	Type             Type                 `json:"type"`
	SMSC             Address              `json:"smsc"`
	Address          Address              `json:"address"` // originator, destination or recipient
	MessageReference int                  `json:"message_reference"`
	StatusReport     bool                 `json:"status_report"`
	MoreMessages     bool                 `json:"more_messages"`
	ReplyPath        bool                 `json:"reply_path"`
	HasUDH           bool                 `json:"has_udh"`
	ProtocolID       byte                 `json:"protocol_id"`
	DCS              DCS                  `json:"dcs"`
	Timestamp        time.Time            `json:"timestamp"`
	Validity         time.Duration        `json:"validity,omitempty"`
	DischargeTime    time.Time            `json:"discharge_time,omitempty"`
	Status           byte                 `json:"status"`
	UDH              []InformationElement `json:"udh,omitempty"`
	Concat           *ConcatInfo          `json:"concat,omitempty"`
	UserData         []byte               `json:"user_data"` // payload after the header; septets for 7-bit
	Text             string               `json:"text"`
	Raw              string               `json:"raw"`
}

// UnsupportedElements returns the header elements this package carries but
// does not interpret.
func (m *Message) UnsupportedElements() []InformationElement {
	var out []InformationElement
	for _, ie := range m.UDH {
		if !ie.Supported() {
			out = append(out, ie)
		}
	}
	return out
}

// Delivered reports whether a status report announces successful delivery.
func (m *Message) Delivered() bool {
	return m.Type == TypeStatusReport && m.Status < 0x20
}

// Decode parses a hex PDU as listed by the modem, service centre prefix
// included.
func Decode(s string) (*Message, error) {
	s = strings.TrimSpace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	m := &Message{Raw: strings.ToUpper(s)}
	smsc, n, err := decodeSMSC(b)
	if err != nil {
		return nil, err
	}
	m.SMSC = smsc
	d := &decoder{b: b, pos: n}
	if err := m.decodeTPDU(d); err != nil {
		return nil, err
	}
	return m, nil
}

type decoder struct {
	b   []byte
	pos int
}

func (d *decoder) next() (byte, error) {
	if d.pos >= len(d.b) {
		return 0, ErrTruncated
	}
	v := d.b[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.b) {
		return nil, ErrTruncated
	}
	v := d.b[d.pos : d.pos+n]
	d.pos += n
	return v, nil
}

func (d *decoder) address() (Address, error) {
	a, n, err := decodeAddress(d.b[d.pos:])
	if err != nil {
		return Address{}, err
	}
	d.pos += n
	return a, nil
}

func (d *decoder) timestamp() (time.Time, error) {
	b, err := d.take(7)
	if err != nil {
		return time.Time{}, err
	}
	return DecodeTimestamp(b)
}

func (m *Message) decodeTPDU(d *decoder) error {
	fo, err := d.next()
	if err != nil {
		return err
	}
	m.Type = Type(fo & 0x03)
	m.StatusReport = fo&flagStatusReport != 0
	m.HasUDH = fo&flagUDHI != 0

	switch m.Type {
	case TypeDeliver:
		m.MoreMessages = fo&flagMoreMessages == 0
		m.ReplyPath = fo&flagReplyPath != 0
		if m.Address, err = d.address(); err != nil {
			return err
		}
		if err := m.decodePIDAndDCS(d); err != nil {
			return err
		}
		if m.Timestamp, err = d.timestamp(); err != nil {
			return err
		}
		return m.decodeUserData(d)

	case TypeSubmit:
		m.ReplyPath = fo&flagReplyPath != 0
		mr, err := d.next()
		if err != nil {
			return err
		}
		m.MessageReference = int(mr)
		if m.Address, err = d.address(); err != nil {
			return err
		}
		if err := m.decodePIDAndDCS(d); err != nil {
			return err
		}
		switch fo & flagVPFMask {
		case 0x10:
			vp, err := d.next()
			if err != nil {
				return err
			}
			m.Validity = DecodeValidity(vp)
		case 0x08, 0x18: // enhanced or absolute, skipped
			if _, err := d.take(7); err != nil {
				return err
			}
		}
		return m.decodeUserData(d)

	case TypeStatusReport:
		m.MoreMessages = fo&flagMoreMessages == 0
		mr, err := d.next()
		if err != nil {
			return err
		}
		m.MessageReference = int(mr)
		if m.Address, err = d.address(); err != nil {
			return err
		}
		if m.Timestamp, err = d.timestamp(); err != nil {
			return err
		}
		if m.DischargeTime, err = d.timestamp(); err != nil {
			return err
		}
		if m.Status, err = d.next(); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnsupportedType, m.Type)
}

func (m *Message) decodePIDAndDCS(d *decoder) error {
	pid, err := d.next()
	if err != nil {
		return err
	}
	dcs, err := d.next()
	if err != nil {
		return err
	}
	m.ProtocolID = pid
	m.DCS = DecodeDCS(dcs)
	return nil
}

func (m *Message) decodeUserData(d *decoder) error {
	udl, err := d.next()
	if err != nil {
		return err
	}
	length := int(udl)
	if m.DCS.Encoding == Encoding7Bit {
		length = (int(udl)*7 + 7) / 8
	}
	ud, err := d.take(length)
	if err != nil {
		return err
	}

	udhOctets := 0
	if m.HasUDH {
		if len(ud) < 1 || len(ud) < 1+int(ud[0]) {
			return ErrBadUDH
		}
		udhOctets = 1 + int(ud[0])
		if m.UDH, err = parseUDH(ud[1:udhOctets]); err != nil {
			return err
		}
		m.Concat = concatFrom(m.UDH)
	}

	switch m.DCS.Encoding {
	case Encoding7Bit:
		septets := Unpack(ud, int(udl))
		skip := paddingSeptets(udhOctets)
		if skip > len(septets) {
			skip = len(septets)
		}
		m.UserData = append([]byte(nil), septets[skip:]...)
		m.Text = FromSeptets(m.UserData)
	case EncodingUCS2:
		m.UserData = append([]byte(nil), ud[udhOctets:]...)
		runes, err := ucs2.Decode(m.UserData)
		if err != nil {
			return fmt.Errorf("ucs2 user data: %w", err)
		}
		m.Text = string(runes)
	default:
		m.UserData = append([]byte(nil), ud[udhOctets:]...)
		m.Text = string(m.UserData)
	}
	return nil
}
