package images

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// Converter transcodes a staged image into the raw format targets boot
// from, and inspects the result.
type Converter interface {
	Convert(ctx context.Context, srcFormat types.ImageFormat, srcPath, dstPath string) error
	Info(ctx context.Context, path string) (*ImageInfo, error)
}

// ImageInfo is the slice of `qemu-img info --output=json` the pipeline
// checks after a conversion.
type ImageInfo struct {
	Format      string `json:"format"`
	VirtualSize int64  `json:"virtual-size"`
	ActualSize  int64  `json:"actual-size"`
}

// QemuImg drives the qemu-img binary.
type QemuImg struct {
	path string
}

// NewQemuImg returns a converter using the binary at path.
func NewQemuImg(path string) *QemuImg {
	if path == "" {
		path = "qemu-img"
	}
	return &QemuImg{path: path}
}

// qemuFormat maps declared formats onto qemu-img driver names. VHD is
// what qemu calls vpc.
func qemuFormat(f types.ImageFormat) string {
	if f == types.ImageFormatVHD {
		return "vpc"
	}
	return strings.ToLower(string(f))
}

func (q *QemuImg) Convert(ctx context.Context, srcFormat types.ImageFormat, srcPath, dstPath string) error {
	args := []string{"convert", "-f", qemuFormat(srcFormat), "-O", "raw", srcPath, dstPath}
	logger := log.WithComponent("images")
	logger.Debug().
		Str("cmd", shellquote.Join(append([]string{q.path}, args...)...)).
		Msg("qemu-img convert")

	out, err := exec.CommandContext(ctx, q.path, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return errors.Wrapf(errdefs.ErrFatal, "qemu-img not found at %s", q.path)
	case ctx.Err() != nil:
		return errors.Wrapf(errdefs.ErrTransient, "qemu-img convert: %v", ctx.Err())
	default:
		return errors.Wrapf(errdefs.ErrFatal, "qemu-img convert: %s", outputTail(out, 512))
	}
}

func (q *QemuImg) Info(ctx context.Context, path string) (*ImageInfo, error) {
	out, err := exec.CommandContext(ctx, q.path, "info", "--output=json", path).CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(errdefs.ErrFatal, "qemu-img info %s: %s", path, outputTail(out, 512))
	}
	var info ImageInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, errors.Wrapf(errdefs.ErrFatal, "qemu-img info %s: decode: %v", path, err)
	}
	return &info, nil
}

// outputTail keeps the last n bytes of tool output for error messages;
// qemu-img prefixes progress noise we do not want in the store.
func outputTail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
