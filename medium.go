package streamdb

import (
	"io"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/pagestore"
)

// ErrWriteByOther is returned when a writable open cannot obtain the
// advisory file lock because another process already holds it.
var ErrWriteByOther = errors.New("streamdb: opened with write mode by another process")

// FileMedium adapts an *os.File to pagestore.Medium, with an advisory
// flock taken for the lifetime of the open handle. StreamDb itself never
// shares a file across processes (cooperative locking is an integration
// concern, not a core guarantee); FileMedium exists so an embedder who
// does need that guard has it available.
type FileMedium struct {
	file     *os.File
	readOnly bool
}

// OpenFileMedium opens path (creating it if absent unless readOnly) and
// takes the advisory lock described by timeout: 0 waits indefinitely,
// and a positive duration gives up with ErrWriteByOther.
func OpenFileMedium(path string, readOnly bool, timeout time.Duration) (*FileMedium, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	} else {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "streamdb: open file")
	}

	fm := &FileMedium{file: f, readOnly: readOnly}
	if err := waitFlock(fm, timeout); err != nil {
		_ = f.Close()
		return nil, err
	}
	return fm, nil
}

func (m *FileMedium) ReadAt(b []byte, off int64) (int, error) {
	n, err := m.file.ReadAt(b, off)
	if err != nil && err != io.EOF {
		return n, err
	}
	if n < len(b) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (m *FileMedium) WriteAt(b []byte, off int64) (int, error) {
	return m.file.WriteAt(b, off)
}

func (m *FileMedium) Flush() error {
	return m.file.Sync()
}

func (m *FileMedium) Length() (int64, error) {
	info, err := m.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (m *FileMedium) Extend(n int64) error {
	return m.file.Truncate(n)
}

// Close releases the advisory lock and closes the underlying file.
func (m *FileMedium) Close() error {
	if m.file == nil {
		return nil
	}
	if !m.readOnly {
		if err := funlock(m); err != nil {
			return errors.Wrap(err, "streamdb: funlock")
		}
	}
	err := m.file.Close()
	m.file = nil
	return err
}

func flockOnce(m *FileMedium) error {
	flag := syscall.LOCK_SH
	if !m.readOnly {
		flag = syscall.LOCK_EX
	}
	err := syscall.Flock(int(m.file.Fd()), flag|syscall.LOCK_NB)
	if err == nil {
		return nil
	}
	if errno, ok := err.(syscall.Errno); ok && (errno == syscall.EWOULDBLOCK || errno == syscall.EAGAIN) {
		return ErrWriteByOther
	}
	return errors.Wrap(err, "streamdb: flock failed")
}

func waitFlock(m *FileMedium, timeout time.Duration) error {
	var started time.Time
	for {
		err := flockOnce(m)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrWriteByOther) {
			return err
		}
		if started.IsZero() {
			started = time.Now()
		} else if timeout > 0 && time.Since(started) > timeout {
			return ErrWriteByOther
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func funlock(m *FileMedium) error {
	return syscall.Flock(int(m.file.Fd()), syscall.LOCK_UN)
}

var _ pagestore.Medium = (*FileMedium)(nil)
