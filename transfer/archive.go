package transfer

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/cenkalti/rainhub/internal/logger"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rcrowley/go-metrics"
)

// Archiver packages transfer outputs into zip files and deletes them after they are served.
type Archiver struct {
	fs      billy.Filesystem
	dir     string
	ledger  *Ledger
	expired metrics.Counter
	log     logger.Logger

	m        sync.Mutex
	timers   map[string]*expiry
	removing map[string]chan struct{}
	gen      uint64
	closed   bool
	wg       sync.WaitGroup

	// Serializes ledger writes so the last one reflects the latest schedule.
	ledgerM sync.Mutex
}

type expiry struct {
	timer    *time.Timer
	gen      uint64
	deadline time.Time
}

// NewArchiver returns an Archiver that writes archives under dir in fs.
// If ledger is not nil, deadlines are persisted and deadlines found in it are scheduled again.
func NewArchiver(fs billy.Filesystem, dir string, ledger *Ledger, expired metrics.Counter) (*Archiver, error) {
	if expired == nil {
		expired = metrics.NilCounter{}
	}
	a := &Archiver{
		fs:      fs,
		dir:     dir,
		ledger:  ledger,
		expired: expired,
		log:     logger.New("archiver"),
		timers:   make(map[string]*expiry),
		removing: make(map[string]chan struct{}),
	}
	if ledger == nil {
		return a, nil
	}
	entries, err := ledger.Entries()
	if err != nil {
		return nil, err
	}
	for p, deadline := range entries {
		delay := time.Until(deadline)
		if delay < 0 {
			delay = 0
		}
		a.log.Debugf("rescheduling deletion of %s in %s", p, delay)
		a.ScheduleExpiry(p, delay)
	}
	return a, nil
}

// PackageAll writes the output directory of s into a zip file named after the transfer
// and returns its path in the filesystem.
// A transfer whose output is a single file cannot be packaged.
func (a *Archiver) PackageAll(s *Session) (string, error) {
	root, name, err := s.contentRoot()
	if err != nil {
		return "", err
	}
	fi, err := a.fs.Stat(root)
	if err != nil {
		return "", newArchiveError(err)
	}
	if !fi.IsDir() {
		return "", newArchiveError(fmt.Errorf("%q is a single file", name))
	}
	dst := path.Join(a.dir, s.ID(), name+".zip")
	a.Cancel(dst)
	if err = a.fs.MkdirAll(path.Dir(dst), 0o750); err != nil {
		return "", newArchiveError(err)
	}
	tmp, err := a.fs.TempFile(path.Dir(dst), ".archive-")
	if err != nil {
		return "", newArchiveError(err)
	}
	var success bool
	defer func() {
		if !success {
			tmp.Close()
			_ = a.fs.Remove(tmp.Name())
		}
	}()
	if err = a.writeZip(tmp, root); err != nil {
		return "", newArchiveError(err)
	}
	if err = tmp.Close(); err != nil {
		return "", newArchiveError(err)
	}
	if err = a.fs.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", newArchiveError(err)
	}
	if err = a.fs.Rename(tmp.Name(), dst); err != nil {
		return "", newArchiveError(err)
	}
	success = true
	a.log.Debugf("created %s", dst)
	return dst, nil
}

func (a *Archiver) writeZip(w io.Writer, root string) error {
	zw := zip.NewWriter(w)
	err := util.Walk(a.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)
			return err
		}
		hdr.Method = zip.Deflate
		zf, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := a.fs.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(zf, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

// ScheduleExpiry deletes the file at p after delay.
// A pending deletion for the same path is replaced.
func (a *Archiver) ScheduleExpiry(p string, delay time.Duration) {
	a.m.Lock()
	if a.closed {
		a.m.Unlock()
		return
	}
	a.cancel(p)
	a.gen++
	gen := a.gen
	a.wg.Add(1)
	a.timers[p] = &expiry{
		gen:      gen,
		deadline: time.Now().Add(delay),
		timer:    time.AfterFunc(delay, func() { a.expire(p, gen) }),
	}
	a.m.Unlock()
	a.syncLedger(p)
}

// Cancel stops the pending deletion of p. Reports whether one was pending.
// If the deletion has already started, Cancel waits for it to finish,
// so the caller may write a new file at p when it returns.
func (a *Archiver) Cancel(p string) bool {
	a.m.Lock()
	ok := a.cancel(p)
	done := a.removing[p]
	a.m.Unlock()
	if done != nil {
		<-done
	}
	if ok {
		a.syncLedger(p)
	}
	return ok
}

func (a *Archiver) cancel(p string) bool {
	e, ok := a.timers[p]
	if !ok {
		return false
	}
	delete(a.timers, p)
	if e.timer.Stop() {
		a.wg.Done()
	}
	return true
}

// syncLedger writes the deadline of the pending deletion of p to the ledger,
// or removes the entry if nothing is pending.
// It reads the schedule under ledgerM, so whichever call runs last records the latest state.
func (a *Archiver) syncLedger(p string) {
	if a.ledger == nil {
		return
	}
	a.ledgerM.Lock()
	defer a.ledgerM.Unlock()
	a.m.Lock()
	if a.closed {
		a.m.Unlock()
		return
	}
	e, ok := a.timers[p]
	var deadline time.Time
	if ok {
		deadline = e.deadline
	}
	a.m.Unlock()
	if ok {
		if err := a.ledger.Put(p, deadline); err != nil {
			a.log.Errorln("cannot record archive deadline:", err)
		}
		return
	}
	if err := a.ledger.Delete(p); err != nil {
		a.log.Errorln("cannot delete archive deadline:", err)
	}
}

// Pending returns the number of scheduled deletions.
func (a *Archiver) Pending() int {
	a.m.Lock()
	defer a.m.Unlock()
	return len(a.timers)
}

func (a *Archiver) expire(p string, gen uint64) {
	defer a.wg.Done()
	a.m.Lock()
	e, ok := a.timers[p]
	if !ok || e.gen != gen {
		a.m.Unlock()
		return
	}
	delete(a.timers, p)
	done := make(chan struct{})
	a.removing[p] = done
	a.m.Unlock()

	op := func() error {
		err := a.fs.Remove(p)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		a.log.Errorf("cannot delete archive %s: %s", p, err)
	} else {
		a.log.Debugln("deleted archive", p)
		a.expired.Inc(1)
	}
	// Remove the per-transfer directory if it is empty now.
	_ = a.fs.Remove(path.Dir(p))

	a.m.Lock()
	delete(a.removing, p)
	close(done)
	a.m.Unlock()
	a.syncLedger(p)
}

// Close cancels pending deletions and waits for running ones.
// Deadlines stay in the ledger and are picked up by the next Archiver.
func (a *Archiver) Close() {
	a.m.Lock()
	a.closed = true
	for p, e := range a.timers {
		delete(a.timers, p)
		if e.timer.Stop() {
			a.wg.Done()
		}
	}
	a.m.Unlock()
	a.wg.Wait()
}
