package fastbleota

// Updater is a platform-native update facility (an ESP32-style Update API):
// the platform owns partition selection, erasing and write buffering, and
// Restart boots into the freshly written image.
type Updater interface {
	Begin(size int) error
	Write(p []byte) (int, error)
	End() error
	Abort()
	Restart()
	MaxSize() int
}

// DelegatingStorage implements Storage by forwarding to an Updater. It only
// tracks the session byte count and active flag; everything irreversible
// happens inside the platform facility.
type DelegatingStorage struct {
	updater  Updater
	platform string
	written  int
	active   bool
}

// NewDelegatingStorage wraps a platform update facility as a Storage
// backend. The platform string is reported by PlatformName.
func NewDelegatingStorage(updater Updater, platform string) *DelegatingStorage {
	return &DelegatingStorage{updater: updater, platform: platform}
}

func (s *DelegatingStorage) Begin(size int) error {
	if s.active {
		return ErrStorageInit
	}
	if size <= 0 || size > s.updater.MaxSize() {
		return ErrStorageSize
	}
	if err := s.updater.Begin(size); err != nil {
		pkgLog.Infof("platform update begin failed: %v", err)
		return ErrStorageInit
	}
	s.written = 0
	s.active = true
	return nil
}

func (s *DelegatingStorage) Write(p []byte) int {
	if !s.active {
		return 0
	}
	n, err := s.updater.Write(p)
	if err != nil {
		pkgLog.Infof("platform update write failed: %v", err)
	}
	if n > 0 {
		s.written += n
	}
	return n
}

func (s *DelegatingStorage) End() error {
	if !s.active {
		return ErrStorageFinalize
	}
	s.active = false
	if err := s.updater.End(); err != nil {
		pkgLog.Infof("platform update end failed: %v", err)
		return ErrStorageFinalize
	}
	return nil
}

func (s *DelegatingStorage) Abort() {
	if s.active {
		s.updater.Abort()
		s.active = false
	}
	s.written = 0
}

func (s *DelegatingStorage) Apply() {
	s.updater.Restart()
}

func (s *DelegatingStorage) MaxSize() int         { return s.updater.MaxSize() }
func (s *DelegatingStorage) BytesWritten() int    { return s.written }
func (s *DelegatingStorage) IsActive() bool       { return s.active }
func (s *DelegatingStorage) PlatformName() string { return s.platform }
