package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
)

// pipeDepth is the per-direction report buffer of a pipe pair.
const pipeDepth = 64

// Pipe is one end of an in-memory transport pair. The host end is
// handed to a device session, the device end to a simulated device.
// Closing either end disconnects both.
type Pipe struct {
	info DeviceInfo
	send chan []byte
	recv chan []byte

	done chan struct{}
	once *sync.Once
}

// NewPipe returns a cross-wired transport pair for one device.
func NewPipe(info DeviceInfo) (host, device *Pipe) {
	a := make(chan []byte, pipeDepth)
	b := make(chan []byte, pipeDepth)
	done := make(chan struct{})
	once := new(sync.Once)

	host = &Pipe{info: info, send: a, recv: b, done: done, once: once}
	device = &Pipe{info: info, send: b, recv: a, done: done, once: once}
	return host, device
}

func (p *Pipe) Info() DeviceInfo {
	return p.info
}

func (p *Pipe) Send(report []byte) error {
	if len(report) > protocol.ReportSize {
		return fmt.Errorf("%w: %d bytes", ErrReportTooLarge, len(report))
	}

	buf := make([]byte, len(report))
	copy(buf, report)

	select {
	case <-p.done:
		return ErrDisconnected
	default:
	}
	select {
	case p.send <- buf:
		return nil
	case <-p.done:
		return ErrDisconnected
	}
}

func (p *Pipe) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case report := <-p.recv:
		return report, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case report := <-p.recv:
		return report, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-p.done:
		// Reports queued before the disconnect are still deliverable.
		select {
		case report := <-p.recv:
			return report, nil
		default:
		}
		return nil, ErrDisconnected
	}
}

// Close disconnects both ends. Idempotent.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
