package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/images"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

type beginUploadRequest struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
	ImageType string `json:"image_type,omitempty"`
}

func (s *Server) handleBeginUpload(w http.ResponseWriter, r *http.Request) {
	var req beginUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	up, err := s.manager.BeginUpload(images.UploadRequest{
		Name:      req.Name,
		Filename:  req.Filename,
		Format:    types.ImageFormat(strings.ToUpper(req.Format)),
		SizeBytes: req.SizeBytes,
		ImageType: types.ImageType(strings.ToUpper(req.ImageType)),
		Actor:     actor(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, up)
}

// handleUploadChunk appends the raw request body at the offset named by
// the Upload-Offset header. The response reports the total bytes
// received so far.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		writeError(w, errors.Wrapf(errdefs.ErrProtocol, "Upload-Offset header: %v", err))
		return
	}
	received, err := s.manager.Images().AppendChunk(r.PathValue("token"), offset, r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"received": received})
}

func (s *Server) handleFinalizeUpload(w http.ResponseWriter, r *http.Request) {
	img, err := s.manager.Images().FinalizeUpload(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Images().Abort(r.PathValue("token")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.manager.ListImages()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, imgs)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.manager.GetImage(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// handleArchiveImage soft-deletes: the row survives as ARCHIVED, the
// bytes are removed. Refused with 409 while live targets reference it.
func (s *Server) handleArchiveImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.manager.ArchiveImage(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}
