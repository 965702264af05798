package mac

import "wpan-sniffer/internal/addrbook"

// Capability information bits of an association request.
const (
	cinfoAltPANCoord  = 0x01
	cinfoDeviceType   = 0x02
	cinfoPowerSource  = 0x04
	cinfoIdleRx       = 0x08
	cinfoSecurity     = 0x40
	cinfoAllocateAddr = 0x80
)

// GTS request characteristics bits.
const (
	gtsReqLenMask  = 0x0F
	gtsReqDirMask  = 0x10
	gtsReqTypeMask = 0x20
)

// decodeCommand parses the command payload and checks that the frame's
// addressing is legal for the command. Addressing violations are
// warnings only; the payload decode proceeds regardless. Association
// responses and coordinator realignments feed the address book,
// disassociations retire entries from it.
func (d *Decoder) decodeCommand(res *Result, ctx Context) {
	f := res.Frame
	cmd := f.Command
	r := &reader{buf: res.Payload}

	checkAddr := func(ok bool) {
		if !ok {
			res.warnf("invalid addressing for %s", cmd.ID)
		}
	}
	srcExt := f.SrcAddrMode == AddrExtended
	dstExt := f.DstAddrMode == AddrExtended

	switch cmd.ID {
	case CmdAssocRequest:
		checkAddr(srcExt && f.DstAddrMode != AddrNone)
		ci := r.u8()
		cmd.Capability = &Capability{
			AltPANCoord:  ci&cinfoAltPANCoord != 0,
			FullDevice:   ci&cinfoDeviceType != 0,
			MainsPowered: ci&cinfoPowerSource != 0,
			RxOnWhenIdle: ci&cinfoIdleRx != 0,
			SecurityCap:  ci&cinfoSecurity != 0,
			AllocateAddr: ci&cinfoAllocateAddr != 0,
		}

	case CmdAssocResponse:
		checkAddr(srcExt && dstExt)
		rsp := &AssocResponse{
			ShortAddr: r.u16(),
			Status:    AssocStatus(r.u8()),
		}
		cmd.AssocResp = rsp
		// A granted short address binds the destination's EUI-64.
		if !ctx.Visited && !r.short &&
			rsp.Status == AssocSuccess && rsp.ShortAddr != NoShortAddr {
			if dst64, ok := f.Dst.Extended(); ok {
				d.book.Update(f.DstPAN, rsp.ShortAddr, dst64, ctx.FrameNum, addrbook.OriginAssoc)
			}
		}

	case CmdDisassocNotify:
		checkAddr(srcExt && dstExt)
		reason := r.u8()
		cmd.DisassocReason = &reason
		if !ctx.Visited && !r.short {
			if dst64, ok := f.Dst.Extended(); ok {
				d.book.InvalidateLong(dst64, ctx.FrameNum)
			} else if dst16, ok := f.Dst.Short(); ok {
				d.book.InvalidateShort(f.DstPAN, dst16, ctx.FrameNum)
			}
		}

	case CmdDataRequest:
		checkAddr(f.SrcAddrMode != AddrNone)

	case CmdPANIDConflict:
		checkAddr(srcExt && dstExt)

	case CmdOrphanNotify:
		checkAddr(srcExt &&
			f.Dst.IsBroadcast() &&
			f.SrcPAN == BroadcastPAN && f.DstPAN == BroadcastPAN)

	case CmdBeaconRequest:
		checkAddr(f.SrcAddrMode == AddrNone &&
			f.Dst.IsBroadcast() && f.DstPAN == BroadcastPAN)

	case CmdCoordRealign:
		checkAddr(srcExt && f.DstPAN == BroadcastPAN && f.DstAddrMode != AddrNone)
		if f.DstAddrMode == AddrShort {
			// Directed to a short address it must be the broadcast one.
			checkAddr(f.Dst.IsBroadcast())
		}
		realign := &CoordRealign{
			PAN:        r.u16(),
			CoordShort: r.u16(),
			Channel:    r.u8(),
			ShortAddr:  r.u16(),
		}
		// The channel page was added in 2006; earlier frames stop short.
		if r.off < len(r.buf) {
			page := r.u8()
			realign.ChannelPage = &page
		}
		cmd.Realign = realign
		if !ctx.Visited && !r.short && realign.ShortAddr != NoShortAddr {
			if dst64, ok := f.Dst.Extended(); ok {
				d.book.Update(f.DstPAN, realign.ShortAddr, dst64, ctx.FrameNum, addrbook.OriginRealign)
			}
		}

	case CmdGTSRequest:
		short16, _ := f.Src.Short()
		checkAddr(f.SrcAddrMode == AddrShort && f.DstAddrMode == AddrNone &&
			short16 != BroadcastShort && short16 != NoShortAddr)
		ch := r.u8()
		cmd.GTS = &GTSRequest{
			Length:   ch & gtsReqLenMask,
			RxOnly:   ch&gtsReqDirMask != 0,
			Allocate: ch&gtsReqTypeMask != 0,
		}
	}

	if r.short {
		res.warnf("%s payload truncated", cmd.ID)
	}
}
