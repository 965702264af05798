package mac

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"wpan-sniffer/internal/addrbook"
)

// FCSLen is the length of the frame check sequence trailer.
const FCSLen = 2

// ErrInvalidAddressing aborts a decode when the frame control carries
// the reserved addressing mode. The FCS verdict is still produced.
var ErrInvalidAddressing = errors.New("mac: reserved addressing mode")

// Options configure a Decoder for a capture session.
type Options struct {
	// CC24xxFCS selects the TI CC24xx trailer format, where the radio
	// replaces the FCS with RSSI, a CRC-OK bit and a correlation value.
	CC24xxFCS bool
	// Key is the shared AES-128 key, nil when none is configured.
	Key []byte
	// Suite2003 stands in for the security level of 2003-era frames,
	// whose headers do not carry one.
	Suite2003 SecurityLevel
	// ExtendAuth2003 includes the 2003 frame counter prefix in the
	// authenticated data.
	ExtendAuth2003 bool
}

// Context tells the decoder where a frame sits in the capture.
type Context struct {
	FrameNum uint64
	// Visited suppresses address book mutations on re-decodes.
	Visited bool
}

// Result is everything one frame produced: the parsed header, the
// payload after any decryption, the security and FCS verdicts and the
// non-fatal problems found along the way.
type Result struct {
	Frame     *Frame
	Payload   []byte
	MIC       []byte
	FCS       FCSResult
	Decrypt   DecryptStatus
	Warnings  []string
	Truncated bool
	Err       error
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// PayloadDissectable reports whether the payload bytes are safe to
// hand to higher layers. A failed MIC on an encrypted frame means the
// plaintext is almost certainly garbage from a wrong key; any other
// security failure leaves the ciphertext in place.
func (r *Result) PayloadDissectable() bool {
	switch r.Decrypt {
	case DecryptNone, DecryptOK:
		return true
	case DecryptMICFailed:
		return r.Frame.Security == nil || !r.Frame.Security.Level.Encrypted()
	default:
		return false
	}
}

// Decoder turns raw MAC frames into Results. One Decoder serves one
// capture session and owns its address book updates.
type Decoder struct {
	opts Options
	book *addrbook.Book
	log  *slog.Logger
}

func NewDecoder(opts Options, book *addrbook.Book, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	if book == nil {
		book = addrbook.New()
	}
	return &Decoder{
		opts: opts,
		book: book,
		log:  logger.With("component", "mac"),
	}
}

// Book exposes the session address book for seeding and snapshots.
func (d *Decoder) Book() *addrbook.Book { return d.book }

// reader is a bounds-checked little-endian cursor. Reads past the end
// return zero and latch the short flag instead of panicking.
type reader struct {
	buf   []byte
	off   int
	short bool
}

func (r *reader) need(n int) bool {
	if r.off+n > len(r.buf) {
		r.short = true
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) skip(n int) {
	if r.need(n) {
		r.off += n
	}
}

// Decode dissects one frame. data holds the captured bytes,
// reportedLen the on-air length including the FCS; a capture shorter
// than reportedLen is treated as truncated, never as an error.
func (d *Decoder) Decode(data []byte, reportedLen int, ctx Context) *Result {
	res := &Result{Frame: &Frame{}}
	f := res.Frame

	if reportedLen < len(data) {
		data = data[:reportedLen]
	}

	// The FCS verdict is computed up front so even frames that abort
	// header parsing carry one.
	res.FCS = verifyFCS(data, reportedLen, d.opts.CC24xxFCS)
	if res.FCS.Status == FCSBad {
		res.warnf("bad FCS")
	}

	r := &reader{buf: data}
	f.FrameControl = ParseFrameControl(r.u16())

	if !f.SeqSuppressed {
		f.Seq = r.u8()
		f.SeqPresent = true
	}

	// Destination addressing.
	switch {
	case f.DstAddrMode.Present():
		f.DstPANPresent = true
		f.DstPAN = r.u16()
		if f.DstAddrMode == AddrShort {
			f.Dst = ShortAddr(r.u16())
		} else {
			f.Dst = ExtendedAddr(r.u64())
		}
	case f.DstAddrMode != AddrNone:
		res.Truncated = r.short
		res.Err = ErrInvalidAddressing
		return res
	}

	// The source PAN is carried only when source addressing exists and
	// either no destination addressing does or the intra-PAN bit is
	// clear. Otherwise it is inherited, or broadcast as a last resort.
	if f.SrcAddrMode.Present() && (!f.DstAddrMode.Present() || !f.IntraPAN) {
		f.SrcPAN = r.u16()
	} else if f.DstAddrMode.Present() {
		f.SrcPAN = f.DstPAN
	} else {
		f.SrcPAN = BroadcastPAN
	}

	switch f.SrcAddrMode {
	case AddrShort:
		f.Src = ShortAddr(r.u16())
	case AddrExtended:
		f.Src = ExtendedAddr(r.u64())
	case AddrNone:
	default:
		res.Truncated = r.short
		res.Err = ErrInvalidAddressing
		return res
	}

	// Auxiliary security header, 2006 and later frames only. 2003
	// frames carry their counters just before the payload instead.
	if f.SecurityEnabled && (f.Version == Version2006 || f.Version == Version2012) {
		parseAuxSecurity(r, f)
	}

	// 802.15.4e information elements: only the two-byte descriptor is
	// recognized, its contents are skipped.
	if f.IEListPresent {
		r.skip(2)
	}

	switch f.Type {
	case FrameBeacon:
		parseBeaconFields(r, f)
	case FrameCommand:
		f.Command = &CommandFields{ID: CommandID(r.u8())}
	}

	if f.SecurityEnabled && f.Version == Version2003 {
		f.Security = &SecurityHeader{Level: d.opts.Suite2003}
		if d.opts.Suite2003.Encrypted() {
			f.Security.FrameCounter = r.u32()
			f.Security.KeySeqCounter = r.u8()
		}
	}

	if r.short {
		res.Truncated = true
		res.warnf("frame truncated inside the header")
		return res
	}

	// Payload.
	if f.SecurityEnabled {
		d.decryptPayload(res, data, r.off, reportedLen, ctx)
	} else {
		res.Payload, res.Truncated = rawPayload(data, r.off, reportedLen)
	}
	if res.Truncated {
		res.warnf("payload truncated")
	}

	if res.PayloadDissectable() {
		switch f.Type {
		case FrameCommand:
			d.decodeCommand(res, ctx)
		}
	}

	if len(res.Warnings) > 0 {
		d.log.Debug("frame decoded with warnings",
			"frame", ctx.FrameNum, "warnings", len(res.Warnings))
	}
	return res
}

// rawPayload clamps the payload region against both the captured and
// the reported length, reporting whether any reported bytes are
// missing from the capture.
func rawPayload(data []byte, offset, reportedLen int) ([]byte, bool) {
	reported := reportedLen - offset - FCSLen
	if reported < 0 {
		reported = 0
	}
	captured := len(data) - offset
	if captured < 0 {
		captured = 0
	}
	truncated := captured < reported
	if !truncated {
		captured = reported
	}
	out := make([]byte, captured)
	copy(out, data[offset:offset+captured])
	return out, truncated
}
