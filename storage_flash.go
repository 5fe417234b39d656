package fastbleota

import (
	"github.com/LeeorNahum/FastBLEOTA/flash"
)

// wordRange is a bounds-checked, word-aligned write cursor over the staging
// region. It refuses to move past the region limit, turning an out-of-range
// write into a short write at the storage layer instead of a stray store.
type wordRange struct {
	next  uint32
	base  uint32
	limit uint32
}

func newWordRange(base, limit uint32) wordRange {
	return wordRange{next: base, base: base, limit: limit}
}

// advance returns the current word address and moves the cursor one word
// forward. It reports false once the region is exhausted.
func (r *wordRange) advance() (uint32, bool) {
	if r.next+4 > r.limit {
		return 0, false
	}
	addr := r.next
	r.next += 4
	return addr, true
}

// FlashStorage is the direct-flash storage backend. It stages the incoming
// image in the upper half of the flash left over after the running
// application, assembling bytes into words and erasing each page exactly
// once, immediately before the first word written into it. Apply copies the
// staged image over the live application from within a critical section and
// resets the device.
type FlashStorage struct {
	dev flash.Device

	pageSize     uint32
	appStart     uint32
	stagingStart uint32
	maxSize      uint32

	cursor       wordRange
	pendingWord  uint32
	pendingBytes uint
	written      int
	stagedLen    uint32
	active       bool
	applyReady   bool
}

// NewFlashStorage computes the staging geometry for the given device: the
// region after the running application is split in half, the upper half
// becoming the staging region. The split caps MaxSize.
func NewFlashStorage(dev flash.Device) *FlashStorage {
	s := &FlashStorage{
		dev:      dev,
		pageSize: dev.PageSize(),
		appStart: dev.AppStart(),
	}
	s.maxSize = (dev.Size() - s.appStart) / 2
	s.stagingStart = s.appStart + s.maxSize
	pkgLog.Debugf("flash storage: page=%d app=0x%08X staging=0x%08X max=%d",
		s.pageSize, s.appStart, s.stagingStart, s.maxSize)
	return s
}

// Begin prepares the staging region for exactly size bytes.
func (s *FlashStorage) Begin(size int) error {
	if s.active {
		return ErrStorageInit
	}
	if size <= 0 || uint32(size) > s.maxSize {
		return ErrStorageSize
	}
	s.cursor = newWordRange(s.stagingStart, s.stagingStart+s.maxSize)
	s.pendingWord = flash.EraseValue
	s.pendingBytes = 0
	s.written = 0
	s.stagedLen = 0
	s.applyReady = false
	s.active = true
	return nil
}

// flushWord commits the assembled word at the cursor, erasing the page first
// when the cursor sits on its first address.
func (s *FlashStorage) flushWord() bool {
	addr, ok := s.cursor.advance()
	if !ok {
		return false
	}
	if addr%s.pageSize == 0 {
		s.dev.ErasePage(addr)
	}
	s.dev.WriteWord(addr, s.pendingWord)
	s.pendingWord = flash.EraseValue
	s.pendingBytes = 0
	return true
}

// Write buffers incoming bytes four at a time and commits each completed
// word. Chunks of any size are accepted; a return smaller than len(p) means
// the staging region is exhausted.
func (s *FlashStorage) Write(p []byte) int {
	if !s.active {
		return 0
	}
	written := 0
	for _, b := range p {
		s.pendingWord &^= 0xFF << (8 * s.pendingBytes)
		s.pendingWord |= uint32(b) << (8 * s.pendingBytes)
		s.pendingBytes++
		if s.pendingBytes == 4 {
			if !s.flushWord() {
				s.written += written
				return written
			}
		}
		written++
	}
	s.written += written
	return written
}

// End flushes a partial trailing word padded with the erase value and
// freezes the staged length to the words actually emitted. That exact
// length, not a page rounding of the declared size, is what Apply copies.
func (s *FlashStorage) End() error {
	if !s.active {
		return ErrStorageFinalize
	}
	if s.pendingBytes > 0 {
		if !s.flushWord() {
			return ErrStorageFinalize
		}
	}
	s.stagedLen = s.cursor.next - s.stagingStart
	s.active = false
	s.applyReady = true
	return nil
}

// Abort discards the in-flight transfer. The staging flash itself is left
// as written; only the cursor state is dropped.
func (s *FlashStorage) Abort() {
	s.active = false
	s.applyReady = false
	s.written = 0
	s.pendingWord = flash.EraseValue
	s.pendingBytes = 0
	s.stagedLen = 0
}

// Apply erases the live application region, copies the staged image over it
// word by word and resets the device. It runs inside the device's critical
// section: once the first application page is erased there is no vector
// table to service an interrupt with. On hardware it does not return.
func (s *FlashStorage) Apply() {
	if !s.applyReady {
		pkgLog.Infof("apply requested with no finalized image")
		return
	}
	dest, src, length := s.appStart, s.stagingStart, s.stagedLen
	s.dev.Critical(func() {
		for addr := dest; addr < dest+length; addr += s.pageSize {
			s.dev.ErasePage(addr)
		}
		for off := uint32(0); off < length; off += 4 {
			s.dev.WriteWord(dest+off, s.dev.ReadWord(src+off))
		}
		s.dev.Reset()
	})
}

func (s *FlashStorage) MaxSize() int         { return int(s.maxSize) }
func (s *FlashStorage) BytesWritten() int    { return s.written }
func (s *FlashStorage) IsActive() bool       { return s.active }
func (s *FlashStorage) PlatformName() string { return s.dev.Name() }
