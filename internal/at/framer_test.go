package at_test

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/pccr10001/gsmlink/internal/at"
)

const transcript = "AT+CSQ\r\r\n+CSQ: 20,99\r\n\r\nOK\r\n" +
	"\r\n+CMTI: \"SM\",3\r\n" +
	"AT+CMGS=23\r\r\n> " +
	"0001000A91214365870900000AE8329BFD4697D9EC37\x1a\r\n+CMGS: 12\r\n\r\nOK\r\n" +
	"AT+CPIN?\r\r\n+CME ERROR: 10\r\n" +
	"\r\n+CMT: ,24\r\n07917283010010F5040BC87238880900F10000993092516195800AE8329BFD4697D9EC37\r\n" +
	"\r\nRING\r\n" +
	"AT+CMGS=9\r\r\n+CMS ERROR: invalid PDU mode parameter\r\n" +
	"AT\r\r\nERROR\r\n"

var want = []at.Frame{
	{Text: "AT+CSQ\n+CSQ: 20,99\nOK", Kind: at.KindReply, Result: at.Ok},
	{Text: "+CMTI: \"SM\",3", Kind: at.KindNewMessage},
	{Text: "AT+CMGS=23\n>", Kind: at.KindPrompt},
	{Text: "0001000A91214365870900000AE8329BFD4697D9EC37\x1a\n+CMGS: 12\nOK", Kind: at.KindReply, Result: at.Ok},
	{Text: "AT+CPIN?\n+CME ERROR: 10", Kind: at.KindReply, Result: at.CMEError, ErrorText: "SIM not inserted"},
	{Text: "+CMT: ,24\n07917283010010F5040BC87238880900F10000993092516195800AE8329BFD4697D9EC37", Kind: at.KindNewMessage},
	{Text: "RING", Kind: at.KindIncomingCall},
	{Text: "AT+CMGS=9\n+CMS ERROR: invalid PDU mode parameter", Kind: at.KindReply, Result: at.CMSError, ErrorText: "invalid PDU mode parameter"},
	{Text: "AT\nERROR", Kind: at.KindReply, Result: at.Error},
}

func feed(chunks []string) ([]at.Frame, string) {
	var got []at.Frame
	f := at.NewFramer(func(fr at.Frame) { got = append(got, fr) })
	for _, c := range chunks {
		f.Write([]byte(c))
	}
	return got, f.Pending()
}

func TestFramerWhole(t *testing.T) {
	got, rest := feed([]string{transcript})
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("frames:\n got %q\nwant %q", got, want)
	}
	if rest != "" {
		t.Errorf("leftover %q", rest)
	}
}

func TestFramerChunking(t *testing.T) {
	t.Run("every split", func(t *testing.T) {
		for i := 1; i < len(transcript); i++ {
			got, _ := feed([]string{transcript[:i], transcript[i:]})
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("split at %d:\n got %q\nwant %q", i, got, want)
			}
		}
	})
	t.Run("byte at a time", func(t *testing.T) {
		chunks := make([]string, len(transcript))
		for i := range transcript {
			chunks[i] = transcript[i : i+1]
		}
		if got, _ := feed(chunks); !reflect.DeepEqual(got, want) {
			t.Fatalf("got %q", got)
		}
	})
	t.Run("random", func(t *testing.T) {
		r := rand.New(rand.NewPCG(1, 2))
		for n := 0; n < 200; n++ {
			var chunks []string
			for s := transcript; s != ""; {
				k := 1 + r.IntN(12)
				if k > len(s) {
					k = len(s)
				}
				chunks = append(chunks, s[:k])
				s = s[k:]
			}
			if got, _ := feed(chunks); !reflect.DeepEqual(got, want) {
				t.Fatalf("chunks %q:\n got %q", chunks, got)
			}
		}
	})
}

func TestParseRemainder(t *testing.T) {
	var got []at.Frame
	f := at.NewFramer(func(fr at.Frame) { got = append(got, fr) })

	rest := f.Parse("ATI\r\r\nQuectel\r\nEC25\r\n")
	if len(got) != 0 {
		t.Fatalf("frame emitted before a final result: %q", got)
	}
	rest = f.Parse(rest + "OK\r\nAT+C")
	if rest != "AT+C" {
		t.Errorf("remainder = %q", rest)
	}
	if len(got) != 1 || got[0].Text != "ATI\nQuectel\nEC25\nOK" {
		t.Errorf("frames = %q", got)
	}
}

func TestPDUHeaderWaitsForBody(t *testing.T) {
	got, rest := feed([]string{"\r\n+CDS: 25\r\n0006"})
	if len(got) != 0 {
		t.Fatalf("status report emitted without its PDU: %q", got)
	}
	if rest != "+CDS: 25\r0006" {
		t.Errorf("pending = %q", rest)
	}
}

func TestFrameHelpers(t *testing.T) {
	fr := want[0]
	if v, ok := fr.Value("+CSQ:"); !ok || v != "20,99" {
		t.Errorf("Value = %q, %v", v, ok)
	}
	if !fr.Contains("AT+CSQ") || fr.Contains("+COPS") {
		t.Error("Contains mismatch")
	}
	var cme at.CMEErr
	if err := want[4].Err(); !errors.As(err, &cme) || string(cme) != "SIM not inserted" {
		t.Errorf("Err() = %v", err)
	}
	if err := want[8].Err(); !errors.Is(err, at.ErrError) {
		t.Errorf("Err() = %v", err)
	}
	if want[1].Kind.Unsolicited() != true || want[0].Kind.Unsolicited() {
		t.Error("Unsolicited mismatch")
	}
}
