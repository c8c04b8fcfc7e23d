package images

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

const (
	// queueSweepInterval bounds how long a PENDING job can sit unnoticed
	// when the enqueue notification was missed.
	queueSweepInterval = 15 * time.Second

	// convertTimeout caps one qemu-img run. Large VHDX images convert at
	// disk speed, so this is generous.
	convertTimeout = time.Hour
)

// Start launches the conversion worker pool.
func (s *Service) Start() {
	for i := 0; i < s.cfg.ConvertWorkers; i++ {
		s.wg.Add(1)
		go s.convertLoop()
	}
	logger := log.WithComponent("images")
	logger.Info().Int("workers", s.cfg.ConvertWorkers).Msg("Conversion workers started")
}

// Stop shuts the pool down and waits for in-flight conversions.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// kick nudges the pool after an enqueue without blocking the caller.
func (s *Service) kick() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Service) convertLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(queueSweepInterval)
	defer ticker.Stop()

	for {
		s.drainQueue()
		select {
		case <-s.notifyCh:
		case <-ticker.C:
		case <-s.stopCh:
			return
		}
	}
}

// drainQueue claims and runs PENDING jobs until none are left. Workers
// race on the claim; the compare-and-set picks one winner per job.
func (s *Service) drainQueue() {
	for {
		jobs, err := s.store.ListConvertJobsByStatus(types.ConvertJobPending)
		if err != nil {
			logger := log.WithComponent("images")
			logger.Error().Err(err).Msg("Failed to list conversion queue")
			return
		}
		if len(jobs) == 0 {
			return
		}
		ran := false
		for _, job := range jobs {
			select {
			case <-s.stopCh:
				return
			default:
			}
			claimed, err := s.store.ClaimConvertJob(job.ImageID, types.ConvertJobPending, types.ConvertJobRunning)
			if err != nil {
				// Another worker won the claim.
				if !errdefs.IsConflict(err) && !errdefs.IsNotFound(err) {
					logger := log.WithImageID(job.ImageID)
					logger.Error().Err(err).Msg("Failed to claim conversion job")
				}
				continue
			}
			s.runJob(claimed)
			ran = true
		}
		if !ran {
			return
		}
	}
}

func (s *Service) runJob(job *types.ConvertJob) {
	logger := log.WithImageID(job.ImageID)
	logger.Info().
		Str("source_format", string(job.SourceFormat)).
		Int("attempt", job.Attempts).
		Msg("Conversion started")

	ctx, cancel := context.WithTimeout(context.Background(), convertTimeout)
	defer cancel()

	tmp := filepath.Join(s.stagingDir(), job.ImageID+".converting")
	os.Remove(tmp) // leftover from an interrupted attempt

	timer := metrics.NewTimer()
	if err := s.convertAndPromote(ctx, job, tmp); err != nil {
		logger.Error().Err(err).Msg("Conversion failed")
		os.Remove(tmp)
		os.Remove(job.SourcePath)
		s.failJob(job.ImageID, err)
		s.publish(events.EventImageError, job.ImageID, "Conversion failed: "+err.Error())
		return
	}
	timer.ObserveDuration(metrics.ConvertDuration)
	logger.Info().Dur("took", timer.Duration()).Msg("Conversion done")
	s.publish(events.EventImageReady, job.ImageID, "Image converted and ready")
}

// convertAndPromote does the actual work of one job: transcode to a
// sibling staging path, verify the result is raw, hash it, rename into
// the image root, then flip image and job state in one transaction.
func (s *Service) convertAndPromote(ctx context.Context, job *types.ConvertJob, tmp string) error {
	if err := s.conv.Convert(ctx, job.SourceFormat, job.SourcePath, tmp); err != nil {
		return err
	}

	info, err := s.conv.Info(ctx, tmp)
	if err != nil {
		return err
	}
	if info.Format != "raw" {
		return errors.Wrapf(errdefs.ErrFatal, "converted file reports format %q, want raw", info.Format)
	}

	sum, size, err := hashFile(tmp)
	if err != nil {
		return errors.Wrap(err, "hash converted image")
	}

	if err := os.Rename(tmp, job.DestPath); err != nil {
		return errors.Wrap(err, "promote converted image")
	}

	err = s.store.WithTx(func(tx *storage.Tx) error {
		img, err := tx.ClaimImageStatus(job.ImageID, types.ImageStatusProcessing, types.ImageStatusReady)
		if err != nil {
			return err
		}
		img.FilePath = job.DestPath
		img.SizeBytes = size
		img.Checksum = sum
		img.ReadyAt = time.Now()
		img.ErrorMessage = ""
		if err := tx.PutImage(img); err != nil {
			return err
		}
		_, err = tx.ClaimConvertJob(job.ImageID, types.ConvertJobRunning, types.ConvertJobDone)
		return err
	})
	if err != nil {
		return err
	}

	os.Remove(job.SourcePath) // staged source is no longer needed
	return nil
}

// failJob records a conversion failure on both the job and the image.
func (s *Service) failJob(imageID string, cause error) {
	err := s.store.WithTx(func(tx *storage.Tx) error {
		job, err := tx.GetConvertJob(imageID)
		if err != nil {
			return err
		}
		job.Status = types.ConvertJobFailed
		job.Error = cause.Error()
		if err := tx.PutConvertJob(job); err != nil {
			return err
		}
		img, err := tx.GetImage(imageID)
		if err != nil {
			return err
		}
		img.Status = types.ImageStatusError
		img.ErrorMessage = cause.Error()
		return tx.PutImage(img)
	})
	if err != nil {
		logger := log.WithImageID(imageID)
		logger.Error().Err(err).Msg("Failed to record conversion failure")
	}
}

// RequeueInterrupted resets RUNNING jobs left behind by a crash. A job
// on its first attempt goes back to PENDING; one that has already been
// retried fails for good. Returns how many jobs were requeued.
func (s *Service) RequeueInterrupted() (int, error) {
	jobs, err := s.store.ListConvertJobsByStatus(types.ConvertJobRunning)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, job := range jobs {
		logger := log.WithImageID(job.ImageID)
		if job.Attempts > 1 {
			s.failJob(job.ImageID, errors.New("conversion interrupted repeatedly"))
			logger.Warn().Int("attempts", job.Attempts).
				Msg("Interrupted conversion exceeded retry budget")
			continue
		}
		if _, err := s.store.ClaimConvertJob(job.ImageID, types.ConvertJobRunning, types.ConvertJobPending); err != nil {
			logger.Error().Err(err).Msg("Failed to requeue interrupted conversion")
			continue
		}
		logger.Info().Msg("Interrupted conversion requeued")
		requeued++
	}
	if requeued > 0 {
		s.kick()
	}
	return requeued, nil
}
