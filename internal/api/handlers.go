package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/protocol"
)

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "ok"})
}

// ─── Login ──────────────────────────────────────────────────────────────────

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.logins.allow(clientIP(r)) {
		metrics.RecordRateLimitHit()
		s.sendError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.sessions.Login(req.Username, req.Password)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Warn("login failed",
			zap.String("username", req.Username))
		s.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	metrics.RecordAuthAttempt(true)

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	logging.WithContext(r.Context()).Info("login",
		zap.String("username", req.Username))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.LoginResponse{
		Token:    token,
		Username: req.Username,
	})
}

// ─── Listing ────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	target, err := s.tenantPath(r)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	listing, err := s.engine.List(r.Context(), target)
	metrics.RecordFSOperation("list", err == nil)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	resp := protocol.ListingResponse{
		Path:        target.Rel,
		Directories: listing.Directories,
		Files:       make([]protocol.FileEntry, 0, len(listing.Files)),
	}
	if resp.Directories == nil {
		resp.Directories = []string{}
	}
	for _, f := range listing.Files {
		resp.Files = append(resp.Files, protocol.FileEntry{
			Name: f.Name,
			Size: f.Size,
			Kind: f.Kind,
		})
	}
	if dir := path.Dir(target.Rel); dir != "." {
		resp.Parent = dir
	} else if percent, err := s.engine.StorageUsage(r.Context(), target); err == nil {
		// Tenant home carries the storage usage of its volume.
		resp.UsedPercent = &percent
	}

	if acceptsGzip(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(resp)
		gw.Close()
		gzipPool.Put(gw)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ─── Download ───────────────────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	target, err := s.tenantPath(r)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	f, info, err := s.engine.Download(r.Context(), target)
	metrics.RecordFSOperation("download", err == nil)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}
	defer f.Close()

	// Sniff the content type from the leading bytes, then rewind for
	// the transfer.
	ct := "application/octet-stream"
	if mt, err := mimetype.DetectReader(f); err == nil {
		ct = mt.String()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.sendFault(w, r, err)
		return
	}

	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", path.Base(target.Rel)))

	n, err := io.Copy(w, f)
	if err != nil {
		logging.WithContext(r.Context()).Warn("download transfer error",
			zap.String("path", target.Rel), zap.Error(err))
	}
	metrics.RecordContentDownload(n)
}

// ─── Zip ────────────────────────────────────────────────────────────────────

func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	target, err := s.tenantPath(r)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	release, ok := s.acquireHeavy(w, r)
	if !ok {
		return
	}
	defer release()

	art, err := s.archiver.BuildZip(r.Context(), target)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}
	defer art.Close()

	f, err := os.Open(art.Path)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", art.Name))

	n, err := io.Copy(w, f)
	if err != nil {
		logging.WithContext(r.Context()).Warn("zip transfer error",
			zap.String("path", target.Rel), zap.Error(err))
	}
	metrics.RecordContentDownload(n)
}

// ─── Create directory ───────────────────────────────────────────────────────

func (s *Server) handleCreateDir(w http.ResponseWriter, r *http.Request) {
	dir, err := s.tenantPath(r)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	var req protocol.CreateDirRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	name, err := s.engine.CreateDirectory(r.Context(), dir, req.Name)
	metrics.RecordFSOperation("mkdir", err == nil)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	logging.WithContext(r.Context()).Info("directory created",
		zap.String("path", dir.Rel+"/"+name))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "created", Name: name})
}

// ─── Delete ─────────────────────────────────────────────────────────────────

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	target, err := s.tenantPath(r)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	err = s.engine.Delete(r.Context(), target)
	metrics.RecordFSOperation("delete", err == nil)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	logging.WithContext(r.Context()).Info("deleted",
		zap.String("path", target.Rel))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "deleted"})
}

// ─── Upload ─────────────────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	dir, err := s.tenantPath(r)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	release, ok := s.acquireHeavy(w, r)
	if !ok {
		return
	}
	defer release()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "multipart body required")
		return
	}

	var stored string
	var size int64
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.sendFault(w, r, err)
			return
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}

		stored, size, err = s.engine.Upload(r.Context(), dir, part.FileName(), part)
		part.Close()
		metrics.RecordFSOperation("upload", err == nil)
		if err != nil {
			s.sendFault(w, r, err)
			return
		}
		metrics.RecordContentUpload(size)
		break
	}
	if stored == "" {
		s.sendError(w, http.StatusBadRequest, "file part required")
		return
	}

	logging.WithContext(r.Context()).Info("file uploaded",
		zap.String("dir", dir.Rel),
		zap.String("name", stored),
		zap.Int64("size", size))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "created", Name: stored})
}

// ─── Unpack ─────────────────────────────────────────────────────────────────

func (s *Server) handleUnpack(w http.ResponseWriter, r *http.Request) {
	dir, err := s.tenantPath(r)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	var req protocol.UnpackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	release, ok := s.acquireHeavy(w, r)
	if !ok {
		return
	}
	defer release()

	name, err := s.archiver.Unpack(r.Context(), dir, req.Name)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	logging.WithContext(r.Context()).Info("archive unpacked",
		zap.String("archive", dir.Rel+"/"+req.Name),
		zap.String("target", name))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "unpacked", Name: name})
}
