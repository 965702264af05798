package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"wpan-sniffer/internal/mac"
)

// Sink receives every record that clears the filter. Sinks must not
// retain rec.Data past the call.
type Sink interface {
	Consume(rec *Record) error
}

// Filter decides whether a record continues down the pipeline.
type Filter interface {
	Matches(rec *Record) (bool, error)
}

// Handler examines a data frame payload. Returning false passes the
// frame to the next candidate.
type Handler func(rec *Record) bool

// Registry routes data frame payloads by PAN ID: the source PAN is
// tried first, then the destination PAN when it differs, then the
// fallback.
type Registry struct {
	byPAN    map[uint16]Handler
	fallback Handler
}

func NewRegistry() *Registry {
	return &Registry{byPAN: make(map[uint16]Handler)}
}

func (g *Registry) Register(pan uint16, h Handler) { g.byPAN[pan] = h }
func (g *Registry) SetFallback(h Handler)          { g.fallback = h }

func (g *Registry) dispatch(rec *Record) {
	f := rec.Result.Frame
	if h := g.byPAN[f.SrcPAN]; h != nil && h(rec) {
		return
	}
	if f.Dst.Mode().Present() && f.DstPAN != f.SrcPAN {
		if h := g.byPAN[f.DstPAN]; h != nil && h(rec) {
			return
		}
	}
	if g.fallback != nil {
		g.fallback(rec)
	}
}

// Config assembles a Pipeline.
type Config struct {
	Source   Source
	Decoder  *mac.Decoder
	Registry *Registry
	Filter   Filter
	Sinks    []Sink
	// RequireValidFCS withholds data payloads from the registry when
	// the FCS did not verify.
	RequireValidFCS bool
	Logger          *slog.Logger
}

// Pipeline pulls frames from a source, decodes them strictly in
// order and fans the results out. Frame numbering starts at 1.
type Pipeline struct {
	cfg Config
	log *slog.Logger
	num uint64
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("capture: pipeline needs a source")
	}
	if cfg.Decoder == nil {
		return nil, errors.New("capture: pipeline needs a decoder")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, log: logger.With("component", "capture")}, nil
}

// Run processes frames until the source drains, a sink fails or the
// context is cancelled. A drained source is a clean stop.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, reported, ts, err := p.cfg.Source.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			p.log.Info("capture drained", "frames", p.num)
			return nil
		}
		if err != nil {
			return fmt.Errorf("capture: read frame %d: %w", p.num+1, err)
		}

		p.num++
		res := p.cfg.Decoder.Decode(data, reported, mac.Context{FrameNum: p.num})
		rec := &Record{
			Num:         p.num,
			Time:        ts,
			Data:        data,
			ReportedLen: reported,
			Result:      res,
		}

		if p.cfg.Filter != nil {
			ok, err := p.cfg.Filter.Matches(rec)
			if err != nil {
				p.log.Warn("filter error", "frame", rec.Num, "err", err)
			} else if !ok {
				continue
			}
		}

		if p.dispatchable(res) && p.cfg.Registry != nil {
			p.cfg.Registry.dispatch(rec)
		}

		for _, sink := range p.cfg.Sinks {
			if err := sink.Consume(rec); err != nil {
				return fmt.Errorf("capture: sink on frame %d: %w", rec.Num, err)
			}
		}
	}
}

// Frames reports how many frames have been decoded so far.
func (p *Pipeline) Frames() uint64 { return p.num }

// Redecode re-dissects a stored record, marked visited so the address
// book is left alone.
func (p *Pipeline) Redecode(rec *Record) *mac.Result {
	return p.cfg.Decoder.Decode(rec.Data, rec.ReportedLen, mac.Context{
		FrameNum: rec.Num,
		Visited:  true,
	})
}

// dispatchable gates the registry: only data frames with an intact,
// trustworthy payload reach subscribers.
func (p *Pipeline) dispatchable(res *mac.Result) bool {
	if res.Err != nil || res.Frame.Type != mac.FrameData {
		return false
	}
	if len(res.Payload) == 0 || !res.PayloadDissectable() {
		return false
	}
	if p.cfg.RequireValidFCS && res.FCS.Status != mac.FCSOK {
		return false
	}
	return true
}
