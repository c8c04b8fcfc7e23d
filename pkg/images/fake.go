package images

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// FakeConverter is an in-memory Converter for tests: Convert copies the
// source bytes to the destination, Info reports the configured format.
type FakeConverter struct {
	mu         sync.Mutex
	Calls      []string
	convertErr error
	infoFormat string
}

func NewFakeConverter() *FakeConverter {
	return &FakeConverter{infoFormat: "raw"}
}

// FailConvert makes every future Convert return err.
func (f *FakeConverter) FailConvert(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convertErr = err
}

// ReportFormat changes what Info claims the converted file is.
func (f *FakeConverter) ReportFormat(format string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoFormat = format
}

func (f *FakeConverter) Convert(_ context.Context, srcFormat types.ImageFormat, srcPath, dstPath string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, fmt.Sprintf("Convert %s %s %s", srcFormat, srcPath, dstPath))
	err := f.convertErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	data, rerr := os.ReadFile(srcPath)
	if rerr != nil {
		return rerr
	}
	return os.WriteFile(dstPath, data, 0o600)
}

func (f *FakeConverter) Info(_ context.Context, path string) (*ImageInfo, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, "Info "+path)
	format := f.infoFormat
	f.mu.Unlock()
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &ImageInfo{Format: format, VirtualSize: st.Size(), ActualSize: st.Size()}, nil
}
