package capture

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
	"time"

	"wpan-sniffer/internal/addrbook"
	"wpan-sniffer/internal/mac"
)

// sliceSource replays in-memory frames.
type sliceSource struct {
	frames [][]byte
	i      int
}

func (s *sliceSource) Next() ([]byte, int, time.Time, error) {
	if s.i >= len(s.frames) {
		return nil, 0, time.Time{}, io.EOF
	}
	f := s.frames[s.i]
	s.i++
	return f, len(f), time.Unix(int64(s.i), 0), nil
}

func (s *sliceSource) Close() error { return nil }

// collectSink remembers everything it saw.
type collectSink struct{ recs []*Record }

func (c *collectSink) Consume(rec *Record) error {
	c.recs = append(c.recs, rec)
	return nil
}

type filterFunc func(*Record) (bool, error)

func (f filterFunc) Matches(rec *Record) (bool, error) { return f(rec) }

func withFCS(b []byte) []byte {
	return binary.LittleEndian.AppendUint16(b, mac.CRC16(b))
}

// dataFrame builds a plain intra-PAN data frame.
func dataFrame(seq uint8, pan, dst, src uint16, payload []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, 0x9841)
	b = append(b, seq)
	b = binary.LittleEndian.AppendUint16(b, pan)
	b = binary.LittleEndian.AppendUint16(b, dst)
	b = binary.LittleEndian.AppendUint16(b, src)
	b = append(b, payload...)
	return withFCS(b)
}

// interPANFrame builds a data frame with distinct source and
// destination PANs.
func interPANFrame(srcPAN, dstPAN uint16, payload []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, 0x9801)
	b = append(b, 1)
	b = binary.LittleEndian.AppendUint16(b, dstPAN)
	b = binary.LittleEndian.AppendUint16(b, 0x0001)
	b = binary.LittleEndian.AppendUint16(b, srcPAN)
	b = binary.LittleEndian.AppendUint16(b, 0x0002)
	b = append(b, payload...)
	return withFCS(b)
}

func testPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Decoder == nil {
		cfg.Decoder = mac.NewDecoder(mac.Options{}, addrbook.New(), nil)
	}
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPipelineNumbersFrames(t *testing.T) {
	src := &sliceSource{frames: [][]byte{
		dataFrame(1, 0x1234, 0x0001, 0x0002, []byte("one")),
		dataFrame(2, 0x1234, 0x0001, 0x0002, []byte("two")),
	}}
	sink := &collectSink{}
	p := testPipeline(t, Config{Source: src, Sinks: []Sink{sink}})

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.recs) != 2 {
		t.Fatalf("got %d records", len(sink.recs))
	}
	if sink.recs[0].Num != 1 || sink.recs[1].Num != 2 {
		t.Fatalf("numbering = %d, %d", sink.recs[0].Num, sink.recs[1].Num)
	}
	if string(sink.recs[1].Result.Payload) != "two" {
		t.Fatalf("payload = %q", sink.recs[1].Result.Payload)
	}
	if p.Frames() != 2 {
		t.Fatalf("Frames() = %d", p.Frames())
	}
}

func TestRegistryDispatchOrder(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	reg.Register(0xAAAA, func(rec *Record) bool {
		calls = append(calls, "src")
		return false
	})
	reg.Register(0xBBBB, func(rec *Record) bool {
		calls = append(calls, "dst")
		return true
	})
	reg.SetFallback(func(rec *Record) bool {
		calls = append(calls, "fallback")
		return true
	})

	src := &sliceSource{frames: [][]byte{interPANFrame(0xAAAA, 0xBBBB, []byte("pp"))}}
	p := testPipeline(t, Config{Source: src, Registry: reg})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0] != "src" || calls[1] != "dst" {
		t.Fatalf("dispatch order = %v", calls)
	}
}

func TestRegistryFallback(t *testing.T) {
	fell := false
	reg := NewRegistry()
	reg.SetFallback(func(rec *Record) bool {
		fell = true
		return true
	})

	src := &sliceSource{frames: [][]byte{dataFrame(1, 0x1234, 1, 2, []byte("x"))}}
	p := testPipeline(t, Config{Source: src, Registry: reg})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !fell {
		t.Fatal("fallback handler not reached")
	}
}

func TestPipelineFilterDropsRecords(t *testing.T) {
	src := &sliceSource{frames: [][]byte{
		dataFrame(1, 0x1234, 1, 2, []byte("keep")),
		dataFrame(2, 0x1234, 1, 2, []byte("drop")),
	}}
	sink := &collectSink{}
	p := testPipeline(t, Config{
		Source: src,
		Sinks:  []Sink{sink},
		Filter: filterFunc(func(rec *Record) (bool, error) {
			return rec.Num%2 == 1, nil
		}),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.recs) != 1 || string(sink.recs[0].Result.Payload) != "keep" {
		t.Fatalf("filter passed %d records", len(sink.recs))
	}
}

func TestRequireValidFCSSuppressesDispatch(t *testing.T) {
	frame := dataFrame(1, 0x1234, 1, 2, []byte("pp"))
	frame[len(frame)-1] ^= 0xFF

	dispatched := false
	reg := NewRegistry()
	reg.SetFallback(func(rec *Record) bool {
		dispatched = true
		return true
	})
	sink := &collectSink{}
	p := testPipeline(t, Config{
		Source:          &sliceSource{frames: [][]byte{frame}},
		Registry:        reg,
		Sinks:           []Sink{sink},
		RequireValidFCS: true,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if dispatched {
		t.Fatal("bad-FCS payload reached the registry")
	}
	// The record itself still flows to sinks.
	if len(sink.recs) != 1 {
		t.Fatalf("got %d records", len(sink.recs))
	}
}

func TestRedecodeDoesNotMutateBook(t *testing.T) {
	// Association response granting 0x1122 to an extended address.
	b := binary.LittleEndian.AppendUint16(nil, 0xDC43)
	b = append(b, 9)
	b = binary.LittleEndian.AppendUint16(b, 0x4444)
	b = binary.LittleEndian.AppendUint64(b, 0xAABBCCDD00112233)
	b = binary.LittleEndian.AppendUint64(b, 0x0011223344556677)
	b = append(b, 0x02)                          // assoc response
	b = binary.LittleEndian.AppendUint16(b, 0x1122)
	b = append(b, 0x00) // success
	frame := withFCS(b)

	book := addrbook.New()
	dec := mac.NewDecoder(mac.Options{}, book, nil)
	sink := &collectSink{}
	p := testPipeline(t, Config{
		Source:  &sliceSource{frames: [][]byte{frame}},
		Decoder: dec,
		Sinks:   []Sink{sink},
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if book.Len() != 1 {
		t.Fatalf("book has %d bindings after first pass", book.Len())
	}

	book.InvalidateLong(0xAABBCCDD00112233, 50)
	res := p.Redecode(sink.recs[0])
	if res.Frame.Command.AssocResp == nil {
		t.Fatal("redecode lost the command fields")
	}
	if book.Len() != 0 {
		t.Fatal("redecode resurrected the address book entry")
	}
}

func TestRecordJSON(t *testing.T) {
	frame := dataFrame(0x2A, 0xABCD, 0x1234, 0x5678, []byte{0xDE, 0xAD})
	dec := mac.NewDecoder(mac.Options{}, addrbook.New(), nil)
	rec := &Record{
		Num:         3,
		Time:        time.Unix(100, 0).UTC(),
		Data:        frame,
		ReportedLen: len(frame),
		Result:      dec.Decode(frame, len(frame), mac.Context{FrameNum: 3}),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "Data" || got["src_pan"] != "0xabcd" {
		t.Fatalf("json = %s", raw)
	}
	if got["src"] != "0x5678" || got["dst"] != "0x1234" {
		t.Fatalf("json addresses = %s", raw)
	}
	if got["payload"] != "dead" {
		t.Fatalf("json payload = %v", got["payload"])
	}
	if got["fcs"] != "OK" {
		t.Fatalf("json fcs = %v", got["fcs"])
	}
}
