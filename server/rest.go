package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/cenkalti/rainhub/engine"
	"github.com/cenkalti/rainhub/transfer"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debugln("cannot write response:", err)
	}
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	f, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	if header.Filename == "" {
		http.Error(w, "No file selected", http.StatusBadRequest)
		return
	}
	t, index, err := s.manager.Submit(f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Transfer-Id", t.ID())
	w.Header().Set("X-Transfer-Index", strconv.Itoa(index))
	writeText(w, http.StatusCreated, fmt.Sprintf("Transfer %q added", t.Name()))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, s.manager.Names())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	st, err := s.manager.Status(ps.ByName("ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, st)
}

func (s *Server) handleStatusLine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	st, err := s.manager.Status(ps.ByName("ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, st.StatusLine())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := s.manager.Stop(ps.ByName("ref")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, "Transfer stopped")
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := s.manager.Pause(ps.ByName("ref")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, "Transfer paused")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := s.manager.Resume(ps.ByName("ref")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, "Transfer resumed")
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	files, err := s.manager.Files(ps.ByName("ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, files)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.serveFile(w, r, ps, "attachment")
}

func (s *Server) handleFileStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.serveFile(w, r, ps, "inline")
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, ps httprouter.Params, disposition string) {
	index, err := strconv.Atoi(ps.ByName("file"))
	if err != nil {
		s.writeError(w, r, transfer.ErrInvalidFileIndex)
		return
	}
	f, info, err := s.manager.OpenFile(ps.ByName("ref"), index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()
	name := path.Base(info.Name)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	http.ServeContent(s.throttle(w), r, name, time.Time{}, f)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, err := s.manager.PackageAll(ps.ByName("ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The archive is deleted later even if the client goes away in the middle.
	defer s.manager.ScheduleExpiry(p)
	f, err := s.manager.Open(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()
	name := path.Base(p)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(s.throttle(w), r, name, time.Time{}, f)
}

func (s *Server) handleDownloadLimit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.handleLimit(w, r, ps, false)
}

func (s *Server) handleUploadLimit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.handleLimit(w, r, ps, true)
}

func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request, ps httprouter.Params, upload bool) {
	rate, err := strconv.ParseInt(ps.ByName("rate"), 10, 64)
	if err != nil {
		s.writeError(w, r, transfer.ErrInvalidRate)
		return
	}
	set, direction := s.manager.SetDownloadLimit, "Download"
	if upload {
		set, direction = s.manager.SetUploadLimit, "Upload"
	}
	sess, err := set(ps.ByName("ref"), rate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Report the limit as the engine applied it.
	down, up, err := sess.Limits()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := down
	if upload {
		limit = up
	}
	if limit == engine.Unlimited {
		writeText(w, http.StatusOK, direction+" limit removed")
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("%s limit set to %d bytes/s", direction, limit))
}
