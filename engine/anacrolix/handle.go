package anacrolix

import (
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/cenkalti/rainhub/engine"
	"golang.org/x/time/rate"
)

// Smallest token bucket size for a limited transfer. Must be larger than a block.
const minBurst = 64 << 10

// Rates are recalculated at most once per interval.
const rateSampleInterval = time.Second

type handle struct {
	engine  *Engine
	client  *torrent.Client
	store   storage.ClientImplCloser
	torrent *torrent.Torrent
	meta    *engine.Metadata
	port    uint16
	down    *rate.Limiter
	up      *rate.Limiter

	m         sync.Mutex
	paused    bool
	released  bool
	downLimit int64
	upLimit   int64

	lastSample  time.Time
	lastRead    int64
	lastWritten int64
	downRate    int64
	upRate      int64
}

var _ engine.Handle = (*handle)(nil)

func (h *handle) Status() engine.Status {
	h.m.Lock()
	defer h.m.Unlock()

	stats := h.torrent.Stats()
	h.sample(stats.BytesReadData.Int64(), stats.BytesWrittenData.Int64())

	total := h.meta.TotalLength
	var completed int64
	if h.torrent.Info() != nil {
		total = h.torrent.Length()
		completed = h.torrent.BytesCompleted()
	}
	progress := 1.0
	if total > 0 {
		progress = float64(completed) / float64(total)
	}
	eta := time.Duration(-1)
	if h.downRate > 0 && total > completed {
		eta = time.Duration((total-completed)/h.downRate) * time.Second
	} else if total == completed {
		eta = 0
	}
	return engine.Status{
		Name:            h.meta.Name,
		InfoHash:        h.meta.InfoHash,
		State:           h.state(total, completed),
		Progress:        progress,
		DownloadRate:    h.downRate,
		UploadRate:      h.upRate,
		NumPeers:        stats.ActivePeers,
		TotalBytes:      total,
		CompletedBytes:  completed,
		DownloadedBytes: stats.BytesReadData.Int64(),
		UploadedBytes:   stats.BytesWrittenData.Int64(),
		FileCount:       len(h.meta.Files),
		Paused:          h.paused,
		ETA:             eta,
	}
}

func (h *handle) sample(read, written int64) {
	now := time.Now()
	if h.lastSample.IsZero() {
		h.lastSample, h.lastRead, h.lastWritten = now, read, written
		return
	}
	elapsed := now.Sub(h.lastSample)
	if elapsed < rateSampleInterval {
		return
	}
	h.downRate = int64(float64(read-h.lastRead) / elapsed.Seconds())
	h.upRate = int64(float64(written-h.lastWritten) / elapsed.Seconds())
	h.lastSample, h.lastRead, h.lastWritten = now, read, written
}

func (h *handle) state(total, completed int64) string {
	switch {
	case h.released:
		return "released"
	case h.paused:
		return "paused"
	case h.torrent.Info() == nil:
		return "downloading_metadata"
	case completed >= total && h.engine.config.Seed:
		return "seeding"
	case completed >= total:
		return "finished"
	default:
		return "downloading"
	}
}

func (h *handle) Pause() error {
	h.m.Lock()
	defer h.m.Unlock()
	h.torrent.DisallowDataDownload()
	h.torrent.DisallowDataUpload()
	h.paused = true
	return nil
}

func (h *handle) Resume() error {
	h.m.Lock()
	defer h.m.Unlock()
	h.torrent.AllowDataUpload()
	h.torrent.AllowDataDownload()
	h.torrent.DownloadAll()
	h.paused = false
	return nil
}

func (h *handle) Release() error {
	h.m.Lock()
	defer h.m.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	h.torrent.Drop()
	errs := h.client.Close()
	if err := h.store.Close(); err != nil {
		errs = append(errs, err)
	}
	h.engine.releasePort(h.port)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (h *handle) Files() []engine.FileInfo {
	files := h.torrent.Files()
	ret := make([]engine.FileInfo, len(files))
	for i, f := range files {
		var progress float64
		if f.Length() > 0 {
			progress = float64(f.BytesCompleted()) / float64(f.Length())
		} else {
			progress = 1
		}
		ret[i] = engine.FileInfo{
			Path:     f.Path(),
			Size:     f.Length(),
			Progress: progress,
			Priority: int(f.Priority()),
		}
	}
	return ret
}

func (h *handle) SetDownloadLimit(bytesPerSec int64) error {
	h.m.Lock()
	defer h.m.Unlock()
	h.downLimit = applyLimit(h.down, bytesPerSec)
	return nil
}

func (h *handle) SetUploadLimit(bytesPerSec int64) error {
	h.m.Lock()
	defer h.m.Unlock()
	h.upLimit = applyLimit(h.up, bytesPerSec)
	return nil
}

func (h *handle) DownloadLimit() int64 {
	h.m.Lock()
	defer h.m.Unlock()
	return h.downLimit
}

func (h *handle) UploadLimit() int64 {
	h.m.Lock()
	defer h.m.Unlock()
	return h.upLimit
}

// applyLimit configures l for n bytes per second and returns the effective limit.
// Values less than or equal to zero remove the limit.
func applyLimit(l *rate.Limiter, n int64) int64 {
	if n <= 0 {
		l.SetLimit(rate.Inf)
		return engine.Unlimited
	}
	burst := n
	if burst < minBurst {
		burst = minBurst
	}
	l.SetBurst(int(burst))
	l.SetLimit(rate.Limit(n))
	return n
}
