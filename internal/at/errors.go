package at

import "errors"

// ErrError is the plain ERROR final result.
var ErrError = errors.New("ERROR")

// CMEErr is a +CME ERROR result: an equipment or network failure.
type CMEErr string

func (e CMEErr) Error() string {
	return "CME Error: " + string(e)
}

// CMSErr is a +CMS ERROR result: a messaging failure.
type CMSErr string

func (e CMSErr) Error() string {
	return "CMS Error: " + string(e)
}

// Common codes from 3GPP TS 27.007 section 9.2.
var cmeErrors = map[int]string{
	0:   "phone failure",
	1:   "no connection to phone",
	3:   "operation not allowed",
	4:   "operation not supported",
	5:   "PH-SIM PIN required",
	10:  "SIM not inserted",
	11:  "SIM PIN required",
	12:  "SIM PUK required",
	13:  "SIM failure",
	14:  "SIM busy",
	15:  "SIM wrong",
	16:  "incorrect password",
	17:  "SIM PIN2 required",
	18:  "SIM PUK2 required",
	20:  "memory full",
	21:  "invalid index",
	22:  "not found",
	23:  "memory failure",
	24:  "text string too long",
	27:  "dial string too long",
	30:  "no network service",
	31:  "network timeout",
	32:  "network not allowed - emergency calls only",
	100: "unknown",
}

// Common codes from 3GPP TS 27.005 section 3.2.5.
var cmsErrors = map[int]string{
	1:   "unassigned (unallocated) number",
	8:   "operator determined barring",
	10:  "call barred",
	21:  "short message transfer rejected",
	27:  "destination out of service",
	28:  "unidentified subscriber",
	29:  "facility rejected",
	30:  "unknown subscriber",
	38:  "network out of order",
	41:  "temporary failure",
	42:  "congestion",
	47:  "resources unavailable, unspecified",
	50:  "requested facility not subscribed",
	69:  "requested facility not implemented",
	96:  "invalid mandatory information",
	111: "protocol error, unspecified",
	300: "ME failure",
	301: "SMS service of ME reserved",
	302: "operation not allowed",
	303: "operation not supported",
	304: "invalid PDU mode parameter",
	305: "invalid text mode parameter",
	310: "SIM not inserted",
	311: "SIM PIN required",
	312: "PH-SIM PIN required",
	313: "SIM failure",
	314: "SIM busy",
	315: "SIM wrong",
	316: "SIM PUK required",
	320: "memory failure",
	321: "invalid memory index",
	322: "memory full",
	330: "SMSC address unknown",
	331: "no network service",
	332: "network timeout",
	340: "no +CNMA acknowledgement expected",
	500: "unknown error",
}
