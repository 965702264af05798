package mac

// Superframe specification bits.
const (
	sfBeaconOrderMask = 0x000F
	sfSuperframeOrder = 0x00F0
	sfFinalCAPMask    = 0x0F00
	sfBattExtension   = 0x1000
	sfPANCoordinator  = 0x4000
	sfAssocPermit     = 0x8000
)

// GTS and pending address fields.
const (
	gtsCountMask   = 0x07
	gtsPermitMask  = 0x80
	gtsSlotMask    = 0x0F
	gtsLengthMask  = 0xF0
	gtsLengthShift = 4
	pendShortMask  = 0x07
	pendLongMask   = 0x70
	pendLongShift  = 4
)

// parseBeaconFields reads the beacon non-payload fields: superframe
// specification, GTS information and the pending address list. They
// precede the beacon payload and are covered by frame authentication.
func parseBeaconFields(r *reader, f *Frame) {
	b := &BeaconFields{}
	f.Beacon = b

	sf := r.u16()
	b.BeaconOrder = uint8(sf & sfBeaconOrderMask)
	b.SuperframeOrder = uint8((sf & sfSuperframeOrder) >> 4)
	b.FinalCAPSlot = uint8((sf & sfFinalCAPMask) >> 8)
	b.BatteryExtension = sf&sfBattExtension != 0
	b.PANCoordinator = sf&sfPANCoordinator != 0
	b.AssocPermit = sf&sfAssocPermit != 0

	spec := r.u8()
	b.GTSPermit = spec&gtsPermitMask != 0
	if count := int(spec & gtsCountMask); count > 0 {
		directions := r.u8()
		for i := 0; i < count; i++ {
			addr := r.u16()
			slot := r.u8()
			b.GTS = append(b.GTS, GTSDescriptor{
				Addr:      addr,
				StartSlot: slot & gtsSlotMask,
				Length:    (slot & gtsLengthMask) >> gtsLengthShift,
				RxOnly:    directions&(1<<i) != 0,
			})
		}
	}

	spec = r.u8()
	for i := 0; i < int(spec&pendShortMask); i++ {
		b.PendingShort = append(b.PendingShort, r.u16())
	}
	for i := 0; i < int((spec&pendLongMask)>>pendLongShift); i++ {
		b.PendingLong = append(b.PendingLong, r.u64())
	}
}
