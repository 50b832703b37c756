package transfer

import (
	"github.com/cenkalti/rainhub/engine"
)

// SetDownloadLimit limits the download rate of the transfer in bytes per second.
// Zero removes the limit.
func (s *Session) SetDownloadLimit(bytesPerSec int64) error {
	return s.setLimit(bytesPerSec, engine.Handle.SetDownloadLimit)
}

// SetUploadLimit limits the upload rate of the transfer in bytes per second.
// Zero removes the limit.
func (s *Session) SetUploadLimit(bytesPerSec int64) error {
	return s.setLimit(bytesPerSec, engine.Handle.SetUploadLimit)
}

// Limits returns the download and upload limits reported by the engine.
func (s *Session) Limits() (download, upload int64, err error) {
	s.m.Lock()
	defer s.m.Unlock()
	if err = s.checkStarted(); err != nil {
		return 0, 0, err
	}
	return s.handle.DownloadLimit(), s.handle.UploadLimit(), nil
}

func (s *Session) setLimit(bytesPerSec int64, set func(engine.Handle, int64) error) error {
	n, err := engineLimit(bytesPerSec)
	if err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	if err = s.checkStarted(); err != nil {
		return err
	}
	return set(s.handle, n)
}

// engineLimit maps a client supplied rate to the engine's convention.
func engineLimit(bytesPerSec int64) (int64, error) {
	switch {
	case bytesPerSec < 0:
		return 0, ErrInvalidRate
	case bytesPerSec == 0:
		return engine.Unlimited, nil
	default:
		return bytesPerSec, nil
	}
}
