package worker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pccr10001/gsmlink/internal/config"
	"go.bug.st/serial"
)

//go:generate go tool mockgen -destination=mock_transport_test.go -package=worker . Transport,Dialer

// Transport is an open byte stream to a modem.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens the Transport of one modem.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// readTimeout bounds every serial read so the read loop can notice a stop.
const readTimeout = 100 * time.Millisecond

// SerialDialer opens a serial port with the line settings of a modem record.
type SerialDialer struct {
	Config config.ModemConfig
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode, err := SerialMode(d.Config)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(d.Config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Config.Port, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", d.Config.Port, err)
	}
	return port, nil
}

// SerialMode converts the line settings of a modem record.
func SerialMode(c config.ModemConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 115200
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch strings.ToLower(c.Parity) {
	case "", "none", "n":
		mode.Parity = serial.NoParity
	case "odd", "o":
		mode.Parity = serial.OddParity
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "mark", "m":
		mode.Parity = serial.MarkParity
	case "space", "s":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %q", ErrInvalidConfig, c.Parity)
	}

	switch c.StopBits {
	case "", "1":
		mode.StopBits = serial.OneStopBit
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %q", ErrInvalidConfig, c.StopBits)
	}
	return mode, nil
}
