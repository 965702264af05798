package mac

import (
	"crypto/subtle"

	"wpan-sniffer/internal/ccm"
)

// Auxiliary security header control byte.
const (
	auxLevelMask      = 0x07
	auxKeyIDModeMask  = 0x18
	auxKeyIDModeShift = 3
)

// DecryptStatus classifies what happened to a secured payload.
type DecryptStatus uint8

const (
	DecryptNone DecryptStatus = iota // frame was not secured
	DecryptOK
	DecryptVersionUnsupported
	DecryptPacketTooSmall
	DecryptNoExtSrcAddr
	DecryptNoKey
	DecryptFailed
	DecryptMICFailed
)

func (s DecryptStatus) String() string {
	switch s {
	case DecryptNone:
		return "not secured"
	case DecryptOK:
		return "ok"
	case DecryptVersionUnsupported:
		return "unsupported frame version"
	case DecryptPacketTooSmall:
		return "packet too small for FCS and MIC"
	case DecryptNoExtSrcAddr:
		return "no extended source address"
	case DecryptNoKey:
		return "no key configured"
	case DecryptFailed:
		return "decrypt failed"
	case DecryptMICFailed:
		return "MIC check failed"
	default:
		return "unknown"
	}
}

// parseAuxSecurity reads the auxiliary security header of a 2006 or
// later frame: control byte, frame counter and the key identifier.
func parseAuxSecurity(r *reader, f *Frame) {
	control := r.u8()
	sec := &SecurityHeader{
		Level:     SecurityLevel(control & auxLevelMask),
		KeyIDMode: KeyIDMode((control & auxKeyIDModeMask) >> auxKeyIDModeShift),
	}
	sec.FrameCounter = r.u32()
	if n := sec.KeyIDMode.KeySourceLen(); n > 0 {
		// Key source is carried big-endian, unlike the rest of the frame.
		sec.KeySource = append([]byte{}, r.bytes(n)...)
	}
	if sec.KeyIDMode != KeyIDImplicit {
		sec.KeyIndex = r.u8()
	}
	f.Security = sec
}

// decryptPayload runs the CCM* security procedure over the payload
// region starting at offset. On any failure the raw clamped payload is
// kept so the caller still has bytes to show, except that an encrypted
// frame failing its MIC check keeps the (untrustworthy) plaintext.
func (d *Decoder) decryptPayload(res *Result, data []byte, offset, reportedLen int, ctx Context) {
	f := res.Frame
	sec := f.Security

	fail := func(status DecryptStatus) {
		res.Decrypt = status
		res.warnf("cannot decrypt: %s", status)
		res.Payload, res.Truncated = rawPayload(data, offset, reportedLen)
	}

	// Everything below leans on fields only these versions define.
	switch f.Version {
	case Version2003, Version2006, Version2012:
	default:
		fail(DecryptVersionUnsupported)
		return
	}

	m := sec.Level.MICLen()
	reported := reportedLen - offset - FCSLen - m
	if reported < 0 {
		fail(DecryptPacketTooSmall)
		return
	}
	captured := reported
	if offset+captured > len(data) {
		captured = len(data) - offset
		res.Truncated = true
	}

	var rxMIC []byte
	haveMIC := m > 0 && offset+reported+m <= len(data)
	if haveMIC {
		rxMIC = append([]byte{}, data[offset+reported:offset+reported+m]...)
	}

	// The nonce needs the sender's EUI-64; short-addressed frames go
	// through the address book.
	var srcAddr uint64
	if ext, ok := f.Src.Extended(); ok {
		srcAddr = ext
	} else if short, ok := f.Src.Short(); ok {
		if mapped, ok := d.book.Extended(f.SrcPAN, short); ok {
			srcAddr = mapped
		} else {
			fail(DecryptNoExtSrcAddr)
			return
		}
	} else {
		fail(DecryptNoExtSrcAddr)
		return
	}

	if len(d.opts.Key) != ccm.KeySize {
		fail(DecryptNoKey)
		return
	}

	params := ccm.Params{
		Key:          d.opts.Key,
		SrcAddr:      srcAddr,
		FrameCounter: sec.FrameCounter,
		NonceByte:    uint8(sec.Level),
		MICLen:       m,
	}
	if f.Version == Version2003 {
		params.NonceByte = sec.KeySeqCounter
	}

	encrypted := sec.Level.Encrypted()
	if encrypted && captured > 0 {
		text := append([]byte{}, data[offset:offset+captured]...)
		if err := params.Transform(rxMIC, text); err != nil {
			d.log.Debug("ctr transform failed", "frame", ctx.FrameNum, "err", err)
			fail(DecryptFailed)
			return
		}
		res.Payload = text
	} else {
		if haveMIC {
			if err := params.Transform(rxMIC, nil); err != nil {
				d.log.Debug("mic transform failed", "frame", ctx.FrameNum, "err", err)
				fail(DecryptFailed)
				return
			}
		}
		res.Payload = append([]byte{}, data[offset:offset+captured]...)
	}
	res.Decrypt = DecryptOK

	// Authentication is only possible with the whole MIC in hand.
	if haveMIC {
		res.MIC = rxMIC

		aadEnd := offset
		plaintext := res.Payload
		if !encrypted {
			// Integrity-only frames authenticate header and payload
			// as one stream.
			aadEnd += len(plaintext)
			plaintext = nil
		} else if f.Version == Version2003 && !d.opts.ExtendAuth2003 {
			// Leave the frame counter and key sequence counter out.
			aadEnd -= 5
		}

		tag, err := params.Tag(data[:aadEnd], plaintext)
		if err != nil || subtle.ConstantTimeCompare(tag, rxMIC) != 1 {
			res.Decrypt = DecryptMICFailed
			res.warnf("MIC check failed")
		}
	}
}
