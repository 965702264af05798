package mac

import "fmt"

// Well-known 802.15.4 address values.
const (
	BroadcastPAN   = 0xFFFF
	BroadcastShort = 0xFFFF
	// NoShortAddr means "not associated" in commands and realignments.
	NoShortAddr = 0xFFFE
)

// Address holds a source or destination address together with its mode.
// The zero value is "no address".
type Address struct {
	mode  AddrMode
	short uint16
	ext   uint64
}

func ShortAddr(v uint16) Address    { return Address{mode: AddrShort, short: v} }
func ExtendedAddr(v uint64) Address { return Address{mode: AddrExtended, ext: v} }

func (a Address) Mode() AddrMode { return a.mode }

// Short returns the 16-bit address, false unless the mode is short.
func (a Address) Short() (uint16, bool) {
	return a.short, a.mode == AddrShort
}

// Extended returns the 64-bit address, false unless the mode is extended.
func (a Address) Extended() (uint64, bool) {
	return a.ext, a.mode == AddrExtended
}

func (a Address) IsBroadcast() bool {
	return a.mode == AddrShort && a.short == BroadcastShort
}

func (a Address) String() string {
	switch a.mode {
	case AddrShort:
		return fmt.Sprintf("0x%04x", a.short)
	case AddrExtended:
		b := a.ext
		return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x",
			byte(b>>56), byte(b>>48), byte(b>>40), byte(b>>32),
			byte(b>>24), byte(b>>16), byte(b>>8), byte(b))
	default:
		return "none"
	}
}

// SecurityLevel is the 3-bit security level from the auxiliary header.
// Bit 2 selects encryption, bits 0-1 the MIC size.
type SecurityLevel uint8

const (
	LevelNone      SecurityLevel = 0x0
	LevelMIC32     SecurityLevel = 0x1
	LevelMIC64     SecurityLevel = 0x2
	LevelMIC128    SecurityLevel = 0x3
	LevelEnc       SecurityLevel = 0x4
	LevelEncMIC32  SecurityLevel = 0x5
	LevelEncMIC64  SecurityLevel = 0x6
	LevelEncMIC128 SecurityLevel = 0x7
)

// MICLen returns the length in bytes of the message integrity code.
func (l SecurityLevel) MICLen() int {
	switch l & 0x3 {
	case 1:
		return 4
	case 2:
		return 8
	case 3:
		return 16
	}
	return 0
}

// Encrypted reports whether the payload is enciphered, not just authenticated.
func (l SecurityLevel) Encrypted() bool { return l&LevelEnc != 0 }

func (l SecurityLevel) String() string {
	switch l {
	case LevelNone:
		return "None"
	case LevelMIC32:
		return "MIC-32"
	case LevelMIC64:
		return "MIC-64"
	case LevelMIC128:
		return "MIC-128"
	case LevelEnc:
		return "Encryption"
	case LevelEncMIC32:
		return "Encryption, MIC-32"
	case LevelEncMIC64:
		return "Encryption, MIC-64"
	case LevelEncMIC128:
		return "Encryption, MIC-128"
	default:
		return "Unknown"
	}
}

// KeyIDMode is the 2-bit key identifier mode from the security control byte.
type KeyIDMode uint8

const (
	KeyIDImplicit KeyIDMode = 0x0
	KeyIDIndex    KeyIDMode = 0x1
	KeyIDSource4  KeyIDMode = 0x2
	KeyIDSource8  KeyIDMode = 0x3
)

// KeySourceLen returns the byte length of the explicit key source field.
func (m KeyIDMode) KeySourceLen() int {
	switch m {
	case KeyIDSource4:
		return 4
	case KeyIDSource8:
		return 8
	}
	return 0
}

// SecurityHeader is the decoded auxiliary security header (2006 and later),
// or the synthetic equivalent built from a 2003 secured frame.
type SecurityHeader struct {
	Level        SecurityLevel `json:"level"`
	KeyIDMode    KeyIDMode     `json:"key_id_mode"`
	FrameCounter uint32        `json:"frame_counter"`
	KeySource    []byte        `json:"key_source,omitempty"`
	KeyIndex     uint8         `json:"key_index,omitempty"`
	// KeySeqCounter is the key sequence counter of 2003 encrypted frames.
	KeySeqCounter uint8 `json:"key_seq_counter,omitempty"`
}

// GTSDescriptor is one guaranteed-time-slot allocation from a beacon.
type GTSDescriptor struct {
	Addr      uint16 `json:"addr"`
	StartSlot uint8  `json:"start_slot"`
	Length    uint8  `json:"length"`
	// Direction bit from the GTS directions field; true means receive-only.
	RxOnly bool `json:"rx_only"`
}

// BeaconFields are the non-payload fields of a beacon frame.
type BeaconFields struct {
	BeaconOrder      uint8           `json:"beacon_order"`
	SuperframeOrder  uint8           `json:"superframe_order"`
	FinalCAPSlot     uint8           `json:"final_cap_slot"`
	BatteryExtension bool            `json:"battery_extension"`
	PANCoordinator   bool            `json:"pan_coordinator"`
	AssocPermit      bool            `json:"assoc_permit"`
	GTSPermit        bool            `json:"gts_permit"`
	GTS              []GTSDescriptor `json:"gts,omitempty"`
	PendingShort     []uint16        `json:"pending_short,omitempty"`
	PendingLong      []uint64        `json:"pending_long,omitempty"`
}

// CommandID identifies a MAC command frame.
type CommandID uint8

const (
	CmdAssocRequest   CommandID = 0x01
	CmdAssocResponse  CommandID = 0x02
	CmdDisassocNotify CommandID = 0x03
	CmdDataRequest    CommandID = 0x04
	CmdPANIDConflict  CommandID = 0x05
	CmdOrphanNotify   CommandID = 0x06
	CmdBeaconRequest  CommandID = 0x07
	CmdCoordRealign   CommandID = 0x08
	CmdGTSRequest     CommandID = 0x09
)

func (c CommandID) String() string {
	switch c {
	case CmdAssocRequest:
		return "Association Request"
	case CmdAssocResponse:
		return "Association Response"
	case CmdDisassocNotify:
		return "Disassociation Notification"
	case CmdDataRequest:
		return "Data Request"
	case CmdPANIDConflict:
		return "PAN ID Conflict"
	case CmdOrphanNotify:
		return "Orphan Notification"
	case CmdBeaconRequest:
		return "Beacon Request"
	case CmdCoordRealign:
		return "Coordinator Realignment"
	case CmdGTSRequest:
		return "GTS Request"
	default:
		return fmt.Sprintf("Unknown Command 0x%02x", uint8(c))
	}
}

// Capability bits carried in an association request.
type Capability struct {
	AltPANCoord  bool `json:"alt_pan_coord"`
	FullDevice   bool `json:"full_device"`
	MainsPowered bool `json:"mains_powered"`
	RxOnWhenIdle bool `json:"rx_on_when_idle"`
	SecurityCap  bool `json:"security_capable"`
	AllocateAddr bool `json:"allocate_addr"`
}

// AssocStatus is the status byte of an association response.
type AssocStatus uint8

const (
	AssocSuccess      AssocStatus = 0x00
	AssocPANFull      AssocStatus = 0x01
	AssocAccessDenied AssocStatus = 0x02
)

func (s AssocStatus) String() string {
	switch s {
	case AssocSuccess:
		return "Association Successful"
	case AssocPANFull:
		return "PAN at Capacity"
	case AssocAccessDenied:
		return "PAN Access Denied"
	default:
		return fmt.Sprintf("Reserved 0x%02x", uint8(s))
	}
}

// AssocResponse is the payload of an association response command.
type AssocResponse struct {
	ShortAddr uint16      `json:"short_addr"`
	Status    AssocStatus `json:"status"`
}

// CoordRealign is the payload of a coordinator realignment command.
type CoordRealign struct {
	PAN        uint16 `json:"pan"`
	CoordShort uint16 `json:"coord_short"`
	Channel    uint8  `json:"channel"`
	ShortAddr  uint16 `json:"short_addr"`
	// ChannelPage is only present in 2006 and later realignments.
	ChannelPage *uint8 `json:"channel_page,omitempty"`
}

// GTSRequest is the characteristics byte of a GTS request command.
type GTSRequest struct {
	Length   uint8 `json:"length"`
	RxOnly   bool  `json:"rx_only"`
	Allocate bool  `json:"allocate"`
}

// CommandFields are the decoded contents of a MAC command frame.
// Only the member matching ID is populated.
type CommandFields struct {
	ID         CommandID      `json:"id"`
	Capability *Capability    `json:"capability,omitempty"`
	AssocResp  *AssocResponse `json:"assoc_resp,omitempty"`
	// DisassocReason: 1 = coordinator wishes device to leave,
	// 2 = device wishes to leave.
	DisassocReason *uint8        `json:"disassoc_reason,omitempty"`
	Realign        *CoordRealign `json:"realign,omitempty"`
	GTS            *GTSRequest   `json:"gts,omitempty"`
}

// Frame is a decoded MAC frame header with its type-specific fields.
type Frame struct {
	FrameControl

	SeqPresent bool  `json:"seq_present"`
	Seq        uint8 `json:"seq"`

	DstPANPresent bool    `json:"dst_pan_present"`
	DstPAN        uint16  `json:"dst_pan"`
	Dst           Address `json:"-"`

	// SrcPAN is always resolved: carried, inherited from DstPAN on
	// intra-PAN frames, or broadcast when no addressing is present.
	SrcPAN uint16  `json:"src_pan"`
	Src    Address `json:"-"`

	Security *SecurityHeader `json:"security,omitempty"`
	Beacon   *BeaconFields   `json:"beacon,omitempty"`
	Command  *CommandFields  `json:"command,omitempty"`
}
