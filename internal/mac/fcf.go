package mac

// Frame control field bit layout (IEEE 802.15.4-2006 7.2.1.1; 802.15.4e adds
// the sequence number suppression and IE list present bits).
const (
	fcfTypeMask      = 0x0007
	fcfSecurity      = 0x0008
	fcfFramePending  = 0x0010
	fcfAckRequest    = 0x0020
	fcfIntraPAN      = 0x0040
	fcfSeqSuppressed = 0x0100
	fcfIEListPresent = 0x0200
	fcfDstModeMask   = 0x0C00
	fcfVersionMask   = 0x3000
	fcfSrcModeMask   = 0xC000

	fcfDstModeShift = 10
	fcfVersionShift = 12
	fcfSrcModeShift = 14
)

// FrameType is the 3-bit MAC frame type.
type FrameType uint8

const (
	FrameBeacon  FrameType = 0x0
	FrameData    FrameType = 0x1
	FrameAck     FrameType = 0x2
	FrameCommand FrameType = 0x3
)

func (t FrameType) String() string {
	switch t {
	case FrameBeacon:
		return "Beacon"
	case FrameData:
		return "Data"
	case FrameAck:
		return "Ack"
	case FrameCommand:
		return "Command"
	default:
		return "Reserved"
	}
}

// AddrMode is the 2-bit addressing mode for the source or destination.
// Mode 1 is reserved and treated as invalid by the decoder.
type AddrMode uint8

const (
	AddrNone     AddrMode = 0x0
	AddrShort    AddrMode = 0x2
	AddrExtended AddrMode = 0x3
)

func (m AddrMode) String() string {
	switch m {
	case AddrNone:
		return "None"
	case AddrShort:
		return "Short/16-bit"
	case AddrExtended:
		return "Long/64-bit"
	default:
		return "Reserved"
	}
}

// Present reports whether the mode carries an address at all.
func (m AddrMode) Present() bool {
	return m == AddrShort || m == AddrExtended
}

// Valid reports whether the mode is one of the three defined values.
func (m AddrMode) Valid() bool {
	return m == AddrNone || m == AddrShort || m == AddrExtended
}

// Version is the 2-bit frame version.
type Version uint8

const (
	Version2003 Version = 0x0
	Version2006 Version = 0x1
	Version2012 Version = 0x2 // 802.15.4e / 2012-2015 family
)

func (v Version) String() string {
	switch v {
	case Version2003:
		return "2003"
	case Version2006:
		return "2006"
	case Version2012:
		return "2012/2015"
	default:
		return "Reserved"
	}
}

// FrameControl is the decoded 2-byte frame control field.
type FrameControl struct {
	Type            FrameType `json:"type"`
	SecurityEnabled bool      `json:"security_enabled"`
	FramePending    bool      `json:"frame_pending"`
	AckRequest      bool      `json:"ack_request"`
	IntraPAN        bool      `json:"intra_pan"`
	SeqSuppressed   bool      `json:"seq_suppressed"`
	IEListPresent   bool      `json:"ie_list_present"`
	DstAddrMode     AddrMode  `json:"dst_addr_mode"`
	Version         Version   `json:"version"`
	SrcAddrMode     AddrMode  `json:"src_addr_mode"`
}

// ParseFrameControl decodes a frame control value. It is total: reserved
// frame types and addressing modes are preserved, never rejected here.
func ParseFrameControl(fcf uint16) FrameControl {
	return FrameControl{
		Type:            FrameType(fcf & fcfTypeMask),
		SecurityEnabled: fcf&fcfSecurity != 0,
		FramePending:    fcf&fcfFramePending != 0,
		AckRequest:      fcf&fcfAckRequest != 0,
		IntraPAN:        fcf&fcfIntraPAN != 0,
		SeqSuppressed:   fcf&fcfSeqSuppressed != 0,
		IEListPresent:   fcf&fcfIEListPresent != 0,
		DstAddrMode:     AddrMode((fcf & fcfDstModeMask) >> fcfDstModeShift),
		Version:         Version((fcf & fcfVersionMask) >> fcfVersionShift),
		SrcAddrMode:     AddrMode((fcf & fcfSrcModeMask) >> fcfSrcModeShift),
	}
}

// Encode packs the frame control back into its wire value.
func (fc FrameControl) Encode() uint16 {
	fcf := uint16(fc.Type) & fcfTypeMask
	if fc.SecurityEnabled {
		fcf |= fcfSecurity
	}
	if fc.FramePending {
		fcf |= fcfFramePending
	}
	if fc.AckRequest {
		fcf |= fcfAckRequest
	}
	if fc.IntraPAN {
		fcf |= fcfIntraPAN
	}
	if fc.SeqSuppressed {
		fcf |= fcfSeqSuppressed
	}
	if fc.IEListPresent {
		fcf |= fcfIEListPresent
	}
	fcf |= (uint16(fc.DstAddrMode) << fcfDstModeShift) & fcfDstModeMask
	fcf |= (uint16(fc.Version) << fcfVersionShift) & fcfVersionMask
	fcf |= (uint16(fc.SrcAddrMode) << fcfSrcModeShift) & fcfSrcModeMask
	return fcf
}
