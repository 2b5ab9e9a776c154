package pdu

import (
	"fmt"
	"time"
)

// EncodeTimestamp renders t as the seven octet service centre timestamp:
// year, month, day, hour, minute and second in swapped BCD followed by the
// zone offset in quarter hours, bit 3 carrying the sign.
func EncodeTimestamp(t time.Time) [7]byte {
	_, offset := t.Zone()
	negative := offset < 0
	if negative {
		offset = -offset
	}
	quarters := offset / (15 * 60)

	var out [7]byte
	for i, v := range []int{t.Year() % 100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()} {
		out[i] = swapBCD(v)
	}
	out[6] = swapBCD(quarters)
	if negative {
		out[6] |= 0x08
	}
	return out
}

// DecodeTimestamp is the inverse of EncodeTimestamp. Years are taken to be
// in 2000-2099.
func DecodeTimestamp(b []byte) (time.Time, error) {
	if len(b) < 7 {
		return time.Time{}, ErrTruncated
	}
	var f [6]int
	for i := range f {
		v, err := unswapBCD(b[i])
		if err != nil {
			return time.Time{}, err
		}
		f[i] = v
	}
	tz := b[6]
	quarters, err := unswapBCD(tz &^ 0x08)
	if err != nil {
		return time.Time{}, err
	}
	offset := quarters * 15 * 60
	if tz&0x08 != 0 {
		offset = -offset
	}
	loc := time.FixedZone("", offset)
	return time.Date(2000+f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, loc), nil
}

func swapBCD(v int) byte {
	return byte(v%10)<<4 | byte(v/10%10)
}

func unswapBCD(b byte) (int, error) {
	lo, hi := int(b&0x0F), int(b>>4)
	if lo > 9 || hi > 9 {
		return 0, fmt.Errorf("%w: %02X", ErrInvalidBCD, b)
	}
	return lo*10 + hi, nil
}

// MaxValidity is the longest relative validity period that can be encoded.
const MaxValidity = 441 * 24 * time.Hour

// EncodeValidity converts a duration into the relative validity period
// octet. Periods shorter than five minutes are rounded up to five minutes
// and week-range periods are rounded up to whole weeks.
func EncodeValidity(d time.Duration) (byte, error) {
	const day = 24 * time.Hour
	switch {
	case d < 0 || d > MaxValidity:
		return 0, fmt.Errorf("%w: %v", ErrValidityRange, d)
	case d <= 12*time.Hour:
		minutes := int(d / time.Minute)
		if minutes < 5 {
			return 0, nil
		}
		return byte(minutes/5 - 1), nil
	case d <= day:
		extra := int((d - 12*time.Hour) / (30 * time.Minute))
		return byte(143 + extra), nil
	case d <= 30*day:
		return byte(166 + int(d/day)), nil
	}
	days := int((d + day - 1) / day)
	weeks := (days + 6) / 7
	if weeks < 5 {
		weeks = 5
	}
	return byte(192 + weeks), nil
}

// DecodeValidity converts a relative validity period octet into a duration.
func DecodeValidity(vp byte) time.Duration {
	v := time.Duration(vp)
	switch {
	case vp <= 143:
		return (v + 1) * 5 * time.Minute
	case vp <= 167:
		return 12*time.Hour + (v-143)*30*time.Minute
	case vp <= 196:
		return (v - 166) * 24 * time.Hour
	}
	return (v - 192) * 7 * 24 * time.Hour
}
