package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// uploadChunkSize is the PUT body size for streamed uploads. Large
// enough to amortize round trips, small enough that a failed chunk
// wastes little.
const uploadChunkSize = 8 << 20

// chunkTimeout bounds a single chunk PUT, not the whole upload.
const chunkTimeout = 5 * time.Minute

// Upload mirrors the server's upload-session document.
type Upload struct {
	Token string       `json:"token"`
	Image *types.Image `json:"image"`
}

// UploadRequest declares an image upload.
type UploadRequest struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
	ImageType string `json:"image_type,omitempty"`
}

// BeginUpload opens an upload session on the server.
func (c *Client) BeginUpload(req UploadRequest) (*Upload, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out Upload
	if err := c.do(ctx, http.MethodPost, "/v1/images", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendChunk sends one chunk at offset. Offsets must be contiguous;
// the server rejects gaps and overlaps, and a rejected chunk may be
// resent at the offset the upload actually reached.
func (c *Client) AppendChunk(token string, offset int64, chunk []byte) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), chunkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/v1/images/"+url.PathEscape(token)+"/chunk", bytes.NewReader(chunk))
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "send chunk")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, decodeError(resp)
	}
	var out struct {
		Received int64 `json:"received"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, "decode response")
	}
	return out.Received, nil
}

// FinalizeUpload closes the upload. RAW images come back READY; formats
// that need conversion come back PROCESSING and are converted in the
// background.
func (c *Client) FinalizeUpload(token string) (*types.Image, error) {
	// Finalize fsyncs and promotes the staged file.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	var out types.Image
	if err := c.do(ctx, http.MethodPost, "/v1/images/"+url.PathEscape(token)+"/finalize", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AbortUpload drops an in-flight upload and its staged bytes.
func (c *Client) AbortUpload(token string) error {
	ctx, cancel := c.reqCtx()
	defer cancel()
	return c.do(ctx, http.MethodPost, "/v1/images/"+url.PathEscape(token)+"/abort", nil, nil)
}

// ListImages returns all image rows, including archived ones.
func (c *Client) ListImages() ([]*types.Image, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out []*types.Image
	if err := c.do(ctx, http.MethodGet, "/v1/images", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetImage returns the image by id.
func (c *Client) GetImage(id string) (*types.Image, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out types.Image
	if err := c.do(ctx, http.MethodGet, "/v1/images/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ArchiveImage soft-deletes an image: the row survives as ARCHIVED, the
// bytes are removed. Refused while live targets reference it.
func (c *Client) ArchiveImage(id string) (*types.Image, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out types.Image
	if err := c.do(ctx, http.MethodDelete, "/v1/images/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadImage streams the file at path as a new image named name,
// reporting progress after every chunk. The format is inferred from the
// file extension unless format is non-empty. A failure after the upload
// session opened aborts it server-side before returning.
func (c *Client) UploadImage(name, path, format string, onProgress func(sent, total int64)) (*types.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image file")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat image file")
	}
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	up, err := c.BeginUpload(UploadRequest{
		Name:      name,
		Filename:  filepath.Base(path),
		Format:    strings.ToUpper(format),
		SizeBytes: info.Size(),
	})
	if err != nil {
		return nil, err
	}

	img, err := c.streamChunks(up.Token, f, info.Size(), onProgress)
	if err != nil {
		if abortErr := c.AbortUpload(up.Token); abortErr != nil && !errdefs.IsNotFound(abortErr) {
			return nil, errors.Wrapf(err, "upload failed and abort failed too (%v)", abortErr)
		}
		return nil, err
	}
	return img, nil
}

func (c *Client) streamChunks(token string, r io.Reader, total int64, onProgress func(sent, total int64)) (*types.Image, error) {
	buf := make([]byte, uploadChunkSize)
	var offset int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, sendErr := c.AppendChunk(token, offset, buf[:n]); sendErr != nil {
				return nil, sendErr
			}
			offset += int64(n)
			if onProgress != nil {
				onProgress(offset, total)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read image file")
		}
	}
	return c.FinalizeUpload(token)
}

// WaitImageReady polls until the image leaves its transitional state.
// It returns the READY image, or an error carrying the server's failure
// message when conversion or verification failed.
func (c *Client) WaitImageReady(ctx context.Context, id string, poll time.Duration) (*types.Image, error) {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		img, err := c.GetImage(id)
		if err != nil {
			return nil, err
		}
		switch img.Status {
		case types.ImageStatusReady:
			return img, nil
		case types.ImageStatusError:
			return nil, errors.Wrapf(errdefs.ErrFatal, "image %s failed: %s", id, img.ErrorMessage)
		case types.ImageStatusArchived:
			return nil, errors.Wrapf(errdefs.ErrPrecondition, "image %s was archived", id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
