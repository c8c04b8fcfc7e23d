package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

type uploadState int

const (
	uploadReceiving uploadState = iota
	uploadFinalizing
	uploadDone
	uploadFailed
)

// uploadSession is the in-memory side of one upload. The row in the
// store is UPLOADING for exactly as long as a session exists.
type uploadSession struct {
	mu       sync.Mutex
	token    string
	imageID  string
	file     *os.File
	path     string
	offset   int64
	declared int64
	format   types.ImageFormat
	hash     hash.Hash
	state    uploadState
}

// UploadRequest carries the metadata for a new upload.
type UploadRequest struct {
	Name      string
	Filename  string
	Format    types.ImageFormat
	SizeBytes int64
	ImageType types.ImageType
	Actor     string
}

// Upload pairs the token chunks are appended under with the created row.
type Upload struct {
	Token string       `json:"token"`
	Image *types.Image `json:"image"`
}

// Service owns the image root: uploads land in <root>/.staging, promoted
// images live at <root>/<id>.raw. Conversion runs on a fixed worker pool
// consuming the durable job queue in the store.
type Service struct {
	cfg    config.Images
	store  storage.Store
	broker *events.Broker
	conv   Converter

	mu      sync.Mutex
	uploads map[string]*uploadSession

	notifyCh chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewService returns the image pipeline service. Workers do not run
// until Start.
func NewService(cfg config.Images, store storage.Store, broker *events.Broker, conv Converter) *Service {
	if cfg.ConvertWorkers <= 0 {
		cfg.ConvertWorkers = 2
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		broker:   broker,
		conv:     conv,
		uploads:  make(map[string]*uploadSession),
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

func (s *Service) stagingDir() string {
	return filepath.Join(s.cfg.Root, ".staging")
}

func (s *Service) finalPath(imageID string) string {
	return filepath.Join(s.cfg.Root, imageID+".raw")
}

func validFormat(f types.ImageFormat) bool {
	switch f {
	case types.ImageFormatRAW, types.ImageFormatVHD, types.ImageFormatVHDX,
		types.ImageFormatQCOW2, types.ImageFormatVMDK:
		return true
	}
	return false
}

// BeginUpload creates the UPLOADING row and its staging file, and
// returns the token chunks must be appended under.
func (s *Service) BeginUpload(req UploadRequest) (*Upload, error) {
	if req.Name == "" {
		return nil, errors.Wrap(errdefs.ErrProtocol, "image name required")
	}
	if !validFormat(req.Format) {
		return nil, errors.Wrapf(errdefs.ErrProtocol, "unknown image format %q", req.Format)
	}
	if req.SizeBytes <= 0 {
		return nil, errors.Wrap(errdefs.ErrProtocol, "declared size must be positive")
	}
	if req.ImageType == "" {
		req.ImageType = types.ImageTypeSystem
	}
	if req.Filename == "" {
		req.Filename = req.Name
	}

	token := uuid.New().String()
	now := time.Now()
	img := &types.Image{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Filename:  req.Filename,
		Format:    req.Format,
		SizeBytes: req.SizeBytes,
		ImageType: req.ImageType,
		Status:    types.ImageStatusUploading,
		CreatedBy: req.Actor,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := os.MkdirAll(s.stagingDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, "create staging dir")
	}
	staging := filepath.Join(s.stagingDir(), token+"."+strings.ToLower(string(req.Format)))
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open staging file")
	}

	if err := s.store.CreateImage(img); err != nil {
		f.Close()
		os.Remove(staging)
		return nil, err
	}

	sess := &uploadSession{
		token:    token,
		imageID:  img.ID,
		file:     f,
		path:     staging,
		declared: req.SizeBytes,
		format:   req.Format,
		hash:     sha256.New(),
		state:    uploadReceiving,
	}
	s.mu.Lock()
	s.uploads[token] = sess
	s.mu.Unlock()

	logger := log.WithImageID(img.ID)
	logger.Info().
		Str("name", img.Name).
		Str("format", string(img.Format)).
		Int64("declared_bytes", img.SizeBytes).
		Msg("Upload started")
	s.publish(events.EventImageUploading, img.ID, "Upload of "+img.Name+" started")
	return &Upload{Token: token, Image: img}, nil
}

func (s *Service) session(token string) (*uploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.uploads[token]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "upload %s", token)
	}
	return sess, nil
}

func (s *Service) drop(token string) {
	s.mu.Lock()
	delete(s.uploads, token)
	s.mu.Unlock()
}

// AppendChunk writes the chunk at offset and returns the new end of the
// staging file. Offsets must be exactly contiguous: a gap or an overlap
// breaks the running checksum, so either is rejected. A failed write is
// resumable from the returned offset.
func (s *Service) AppendChunk(token string, offset int64, r io.Reader) (int64, error) {
	sess, err := s.session(token)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != uploadReceiving {
		return sess.offset, errors.Wrapf(errdefs.ErrProtocol, "upload %s no longer accepts chunks", token)
	}
	if offset != sess.offset {
		return sess.offset, errors.Wrapf(errdefs.ErrProtocol,
			"chunk at offset %d, next expected %d", offset, sess.offset)
	}

	n, err := io.Copy(io.MultiWriter(sess.file, sess.hash), r)
	sess.offset += n
	metrics.UploadBytesTotal.Add(float64(n))
	if err != nil {
		return sess.offset, errors.Wrap(err, "write chunk")
	}
	return sess.offset, nil
}

// FinalizeUpload closes the staging file and promotes it. RAW uploads
// rename straight into the image root and go READY with their checksum;
// everything else gets a conversion job and goes PROCESSING.
func (s *Service) FinalizeUpload(ctx context.Context, token string) (*types.Image, error) {
	sess, err := s.session(token)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != uploadReceiving {
		return nil, errors.Wrapf(errdefs.ErrProtocol, "upload %s already finalized", token)
	}
	sess.state = uploadFinalizing

	fail := func(cause error) (*types.Image, error) {
		sess.state = uploadFailed
		sess.file.Close()
		os.Remove(sess.path)
		s.drop(token)
		s.markError(sess.imageID, cause.Error())
		s.publish(events.EventImageError, sess.imageID, "Upload failed: "+cause.Error())
		return nil, cause
	}

	if err := sess.file.Sync(); err != nil {
		return fail(errors.Wrap(err, "sync staging file"))
	}
	if sess.offset != sess.declared {
		return fail(errors.Wrapf(errdefs.ErrProtocol,
			"size mismatch: received %d bytes, declared %d", sess.offset, sess.declared))
	}
	sum := hex.EncodeToString(sess.hash.Sum(nil))
	if err := sess.file.Close(); err != nil {
		return fail(errors.Wrap(err, "close staging file"))
	}

	var img *types.Image
	if sess.format == types.ImageFormatRAW {
		// Rename before the status flip: anyone observing READY must
		// find the promoted bytes in place.
		final := s.finalPath(sess.imageID)
		if err := os.Rename(sess.path, final); err != nil {
			return fail(errors.Wrap(err, "promote image"))
		}
		err = s.store.WithTx(func(tx *storage.Tx) error {
			var err error
			img, err = tx.ClaimImageStatus(sess.imageID, types.ImageStatusUploading, types.ImageStatusReady)
			if err != nil {
				return err
			}
			img.FilePath = final
			img.SizeBytes = sess.offset
			img.Checksum = sum
			img.ReadyAt = time.Now()
			return tx.PutImage(img)
		})
		if err != nil {
			os.Remove(final)
			return fail(err)
		}
		sess.state = uploadDone
		s.drop(token)
		logger := log.WithImageID(img.ID)
		logger.Info().Str("checksum", sum).Msg("Image ready")
		s.publish(events.EventImageReady, img.ID, "Image "+img.Name+" ready")
		return img, nil
	}

	// The staging file holds the only bytes until conversion lands, so
	// the PROCESSING row points at it.
	err = s.store.WithTx(func(tx *storage.Tx) error {
		var err error
		img, err = tx.ClaimImageStatus(sess.imageID, types.ImageStatusUploading, types.ImageStatusProcessing)
		if err != nil {
			return err
		}
		img.FilePath = sess.path
		img.SizeBytes = sess.offset
		if err := tx.PutImage(img); err != nil {
			return err
		}
		now := time.Now()
		return tx.EnqueueConvertJob(&types.ConvertJob{
			ImageID:      sess.imageID,
			SourcePath:   sess.path,
			SourceFormat: sess.format,
			DestPath:     s.finalPath(sess.imageID),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		return fail(err)
	}
	sess.state = uploadDone
	s.drop(token)
	logger := log.WithImageID(img.ID)
	logger.Info().Str("format", string(sess.format)).Msg("Image queued for conversion")
	s.publish(events.EventImageProcessing, img.ID, "Image "+img.Name+" queued for conversion")
	s.kick()
	return img, nil
}

// Abort drops an in-flight upload: staging removed, row marked ERROR.
func (s *Service) Abort(token string) error {
	sess, err := s.session(token)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != uploadReceiving {
		return errors.Wrapf(errdefs.ErrProtocol, "upload %s already finalized", token)
	}
	sess.state = uploadFailed
	sess.file.Close()
	os.Remove(sess.path)
	s.drop(token)
	s.markError(sess.imageID, "upload aborted")
	s.publish(events.EventImageError, sess.imageID, "Upload aborted")
	logger := log.WithImageID(sess.imageID)
	logger.Info().Msg("Upload aborted")
	return nil
}

// markError moves a non-terminal image to ERROR, best-effort.
func (s *Service) markError(imageID, msg string) {
	err := s.store.WithTx(func(tx *storage.Tx) error {
		img, err := tx.GetImage(imageID)
		if err != nil {
			return err
		}
		if img.Status != types.ImageStatusUploading && img.Status != types.ImageStatusProcessing {
			return nil
		}
		img.Status = types.ImageStatusError
		img.ErrorMessage = msg
		return tx.PutImage(img)
	})
	if err != nil {
		logger := log.WithImageID(imageID)
		logger.Error().Err(err).Msg("Failed to mark image ERROR")
	}
}

// FailInterruptedUploads fails UPLOADING rows with no live upload
// session behind them. After a restart that is all of them: chunk
// bookkeeping does not survive the process. Staging files nothing
// references anymore are swept, except sources a queued conversion
// still needs. Returns how many uploads were failed.
func (s *Service) FailInterruptedUploads() (int, error) {
	orphans, err := s.store.ListImagesByStatus(types.ImageStatusUploading)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	live := make(map[string]bool, len(s.uploads))
	for _, sess := range s.uploads {
		live[sess.imageID] = true
	}
	s.mu.Unlock()

	failed := 0
	for _, img := range orphans {
		if live[img.ID] {
			continue
		}
		s.markError(img.ID, "recovery: interrupted upload")
		s.publish(events.EventImageError, img.ID, "Upload of "+img.Name+" interrupted by restart")
		logger := log.WithImageID(img.ID)
		logger.Warn().Str("name", img.Name).Msg("Interrupted upload failed")
		failed++
	}

	s.sweepStaging()
	return failed, nil
}

// sweepStaging removes staging files no upload session and no queued
// conversion references. Sources and scratch files of PENDING or
// RUNNING jobs stay put; a worker may be reading them right now.
func (s *Service) sweepStaging() {
	entries, err := os.ReadDir(s.stagingDir())
	if err != nil {
		return
	}

	keep := make(map[string]bool)
	s.mu.Lock()
	for _, sess := range s.uploads {
		keep[sess.path] = true
	}
	s.mu.Unlock()
	for _, st := range []types.ConvertJobStatus{types.ConvertJobPending, types.ConvertJobRunning} {
		jobs, err := s.store.ListConvertJobsByStatus(st)
		if err != nil {
			return
		}
		for _, job := range jobs {
			keep[job.SourcePath] = true
			keep[filepath.Join(s.stagingDir(), job.ImageID+".converting")] = true
		}
	}

	for _, e := range entries {
		path := filepath.Join(s.stagingDir(), e.Name())
		if keep[path] {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger := log.WithComponent("images")
			logger.Warn().Err(err).Str("path", path).Msg("Failed to remove stale staging file")
		}
	}
}

// Archive soft-deletes a READY or ERROR image and removes its bytes.
// Refused while a live target still reads the file. Archiving an
// ARCHIVED image is a no-op.
func (s *Service) Archive(id string) (*types.Image, error) {
	var img *types.Image
	var removePath string
	archived := false
	err := s.store.WithTx(func(tx *storage.Tx) error {
		live, err := tx.LiveTargetsForImage(id)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			return errors.Wrapf(errdefs.ErrPrecondition,
				"image %s referenced by %d live target(s)", id, len(live))
		}
		img, err = tx.GetImage(id)
		if err != nil {
			return err
		}
		switch img.Status {
		case types.ImageStatusArchived:
			return nil
		case types.ImageStatusReady, types.ImageStatusError:
		default:
			return errors.Wrapf(errdefs.ErrPrecondition, "image %s is %s", id, img.Status)
		}
		removePath = img.FilePath
		img.Status = types.ImageStatusArchived
		archived = true
		return tx.PutImage(img)
	})
	if err != nil {
		return nil, err
	}
	if !archived {
		return img, nil
	}
	logger := log.WithImageID(id)
	if removePath != "" {
		if err := os.Remove(removePath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("Failed to remove archived image file")
		}
	}
	logger.Info().Msg("Image archived")
	s.publish(events.EventImageArchived, id, "Image "+img.Name+" archived")
	return img, nil
}

// VerifyChecksum recomputes the file hash of a READY image and compares
// it against the recorded checksum.
func (s *Service) VerifyChecksum(id string) error {
	img, err := s.store.GetImage(id)
	if err != nil {
		return err
	}
	if img.Status != types.ImageStatusReady {
		return errors.Wrapf(errdefs.ErrPrecondition, "image %s is %s, not READY", id, img.Status)
	}
	sum, size, err := hashFile(img.FilePath)
	if err != nil {
		return errors.Wrapf(err, "hash image %s", id)
	}
	if sum != img.Checksum || size != img.SizeBytes {
		return errors.Wrapf(errdefs.ErrFatal,
			"image %s corrupted: file %s/%d bytes, recorded %s/%d bytes",
			id, sum, size, img.Checksum, img.SizeBytes)
	}
	return nil
}

func (s *Service) publish(t events.EventType, imageID, msg string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:     t,
		Message:  msg,
		Metadata: map[string]string{"image_id": imageID},
	})
}

// hashFile streams the file through SHA-256.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
