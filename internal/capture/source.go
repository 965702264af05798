// Package capture feeds raw 802.15.4 frames from a pcap file or a
// serial PHY stream through the MAC decoder and hands the results to
// sinks, with data payload dispatch keyed by PAN ID.
package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.bug.st/serial"

	"wpan-sniffer/internal/mac"
)

// Source yields raw frames. Next returns io.EOF when the capture is
// exhausted; reportedLen is the on-air length including the FCS, which
// can exceed len(data) for truncated captures.
type Source interface {
	Next() (data []byte, reportedLen int, ts time.Time, err error)
	Close() error
}

// DLT 195 is 802.15.4 with the trailing FCS and DLT 230 is 802.15.4
// without it; pcapgo's layers package has no name for either.
const (
	linkTypeWithFCS = layers.LinkType(195)
	linkTypeNoFCS   = layers.LinkType(230)
)

// PcapSource reads frames from a pcap file.
type PcapSource struct {
	f *os.File
	r *pcapgo.Reader
	// noFCS captures strip the 2-byte trailer; the reported length is
	// widened so downstream length math stays uniform.
	noFCS bool
}

func OpenPcap(path string) (*PcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: read pcap header: %w", err)
	}
	s := &PcapSource{f: f, r: r}
	switch r.LinkType() {
	case linkTypeWithFCS:
	case linkTypeNoFCS:
		s.noFCS = true
	default:
		f.Close()
		return nil, fmt.Errorf("capture: unsupported link type %d", r.LinkType())
	}
	return s, nil
}

func (s *PcapSource) Next() ([]byte, int, time.Time, error) {
	data, ci, err := s.r.ReadPacketData()
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	reported := ci.Length
	if s.noFCS {
		reported += mac.FCSLen
	}
	return data, reported, ci.Timestamp, nil
}

func (s *PcapSource) Close() error { return s.f.Close() }

// Non-ASK PHY framing: a start-of-frame delimiter followed by a PHR
// byte whose low 7 bits hold the frame length.
const (
	phySFD     = 0xA7
	phyLenMask = 0x7F
)

// SerialSource deframes a live PHY byte stream from a sniffer radio.
type SerialSource struct {
	port serial.Port
	br   *bufio.Reader
}

func OpenSerial(portName string, baud int) (*SerialSource, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", portName, err)
	}
	return &SerialSource{port: port, br: bufio.NewReader(port)}, nil
}

func (s *SerialSource) Next() ([]byte, int, time.Time, error) {
	data, err := readPHYFrame(s.br)
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	return data, len(data), time.Now(), nil
}

func (s *SerialSource) Close() error { return s.port.Close() }

// readPHYFrame hunts for the next start-of-frame delimiter and reads
// one length-prefixed frame.
func readPHYFrame(br *bufio.Reader) ([]byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != phySFD {
			continue
		}
		phr, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		n := int(phr & phyLenMask)
		if n < mac.FCSLen {
			// Noise or an aborted frame; keep hunting.
			continue
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, err
		}
		return data, nil
	}
}
