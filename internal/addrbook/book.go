// Package addrbook tracks the short address to extended address
// mappings a capture session learns from association responses and
// coordinator realignments. The decoder consults it to recover the
// 64-bit source address that frame security needs when a secured
// frame only carries a short address.
package addrbook

// Origin records how a mapping was learned.
type Origin string

const (
	OriginStatic  Origin = "static"
	OriginAssoc   Origin = "association"
	OriginRealign Origin = "realignment"
)

// Record is one short-to-extended binding and its lifetime in frame
// numbers. EndFrame zero means the binding is still current.
type Record struct {
	Addr64     uint64 `json:"addr64"`
	Pan        uint16 `json:"pan"`
	Short      uint16 `json:"short"`
	StartFrame uint64 `json:"start_frame"`
	EndFrame   uint64 `json:"end_frame,omitempty"`
	Origin     Origin `json:"origin"`
}

type shortKey struct {
	pan   uint16
	short uint16
}

// Book is a session-scoped address table. Both indices point at the
// same records, so invalidating through either side stamps the other.
// Records are never removed: invalidation end-stamps them in place,
// and lookups return the latest record for a key regardless of which
// frame is asking or whether the binding has since been closed.
//
// Not safe for concurrent use; the capture pipeline is sequential.
type Book struct {
	byShort map[shortKey]*Record
	byLong  map[uint64]*Record
	history []*Record
}

func New() *Book {
	return &Book{
		byShort: make(map[shortKey]*Record),
		byLong:  make(map[uint64]*Record),
	}
}

// Update binds (pan, short) to addr64 starting at frame. If the
// binding already maps to the same extended address and is still open
// nothing changes; otherwise any record under either key is closed at
// frame and a new one inserted under both.
func (b *Book) Update(pan, short uint16, addr64 uint64, frame uint64, origin Origin) {
	sk := shortKey{pan, short}
	if old := b.byShort[sk]; old != nil && old.Addr64 == addr64 && old.EndFrame == 0 {
		return
	}
	b.closeShort(sk, frame)
	b.closeLong(addr64, frame)

	rec := &Record{
		Addr64:     addr64,
		Pan:        pan,
		Short:      short,
		StartFrame: frame,
		Origin:     origin,
	}
	b.byShort[sk] = rec
	b.byLong[addr64] = rec
	b.history = append(b.history, rec)
}

// InvalidateShort closes the binding for (pan, short) at frame, if any.
func (b *Book) InvalidateShort(pan, short uint16, frame uint64) {
	b.closeShort(shortKey{pan, short}, frame)
}

// InvalidateLong closes the binding for addr64 at frame, if any.
func (b *Book) InvalidateLong(addr64 uint64, frame uint64) {
	b.closeLong(addr64, frame)
}

// closeShort and closeLong end-stamp a record without unlinking it, so
// the mapping stays resolvable for frames past the binding's lifetime.
func (b *Book) closeShort(sk shortKey, frame uint64) {
	if rec := b.byShort[sk]; rec != nil && rec.EndFrame == 0 {
		rec.EndFrame = frame
	}
}

func (b *Book) closeLong(addr64 uint64, frame uint64) {
	if rec := b.byLong[addr64]; rec != nil && rec.EndFrame == 0 {
		rec.EndFrame = frame
	}
}

// Extended resolves a short address to the extended address of its
// latest binding, closed or not.
func (b *Book) Extended(pan, short uint16) (uint64, bool) {
	rec := b.byShort[shortKey{pan, short}]
	if rec == nil {
		return 0, false
	}
	return rec.Addr64, true
}

// Short resolves an extended address to the (pan, short) of its latest
// binding, closed or not.
func (b *Book) Short(addr64 uint64) (pan, short uint16, ok bool) {
	rec := b.byLong[addr64]
	if rec == nil {
		return 0, 0, false
	}
	return rec.Pan, rec.Short, true
}

// Seed installs a static mapping active from the start of the capture.
func (b *Book) Seed(pan, short uint16, addr64 uint64) {
	b.Update(pan, short, addr64, 0, OriginStatic)
}

// Export returns every record the session created, closed ones
// included, in insertion order.
func (b *Book) Export() []Record {
	out := make([]Record, 0, len(b.history))
	for _, rec := range b.history {
		out = append(out, *rec)
	}
	return out
}

// Len reports the number of currently open bindings.
func (b *Book) Len() int {
	n := 0
	for _, rec := range b.byShort {
		if rec.EndFrame == 0 {
			n++
		}
	}
	return n
}
