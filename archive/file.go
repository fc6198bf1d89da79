package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks archive files stored zstd-compressed.
const CompressedSuffix = ".zst"

// ReadFile reads an archive file into memory, decompressing it when the path
// ends in CompressedSuffix. The returned bytes are the line-format contents.
func ReadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", path, err)
	}
	if !strings.HasSuffix(path, CompressedSuffix) {
		return raw, nil
	}

	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder for %s: %w", path, err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompressing archive %s: %w", path, err)
	}
	return data, nil
}
