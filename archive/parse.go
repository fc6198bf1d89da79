package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/jmgilman/go/errors"
)

const (
	// Delimiter separates the fields of a git archive line. Values cannot
	// contain it; there is no escaping.
	Delimiter = ","

	// gitFieldCount is the number of fields on every git archive line:
	// rawUrl, localPath, commitHash, commitDate, lastFetch.
	gitFieldCount = 5

	// maxLineSize bounds a single archive line.
	maxLineSize = 1024 * 1024
)

// ErrMalformedLine is returned when a git archive line does not split into
// exactly five fields. The whole parse is abandoned.
var ErrMalformedLine = errors.New(errors.CodeInvalidInput, "malformed archive line")

// ParseGit parses git archive contents into an index. Blank lines are skipped.
// A malformed line aborts the parse and no index is returned.
func ParseGit(r io.Reader) (*GitIndex, error) {
	var records []RepoRecord
	err := scanLines(r, func(lineNo int, line string) error {
		fields := strings.Split(line, Delimiter)
		if len(fields) != gitFieldCount {
			return errors.WithContextMap(
				errors.Wrapf(ErrMalformedLine, errors.CodeInvalidInput,
					"line %d: expected %d fields, got %d", lineNo, gitFieldCount, len(fields)),
				map[string]interface{}{"line": lineNo, "content": line},
			)
		}
		records = append(records, RepoRecord{
			RawURL:         fields[0],
			LocalPath:      fields[1],
			LastCommitHash: fields[2],
			LastCommitDate: fields[3],
			LastFetchTime:  fields[4],
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewGitIndex(records...), nil
}

// ParseHuggingface parses model-repository archive contents: one identifier
// per non-blank trimmed line, case preserved.
func ParseHuggingface(r io.Reader) (*HuggingfaceIndex, error) {
	var ids []string
	err := scanLines(r, func(_ int, line string) error {
		ids = append(ids, line)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewHuggingfaceIndex(ids...), nil
}

// ParseGitBytes is ParseGit over an in-memory buffer.
func ParseGitBytes(data []byte) (*GitIndex, error) {
	return ParseGit(bytes.NewReader(data))
}

// ParseHuggingfaceBytes is ParseHuggingface over an in-memory buffer.
func ParseHuggingfaceBytes(data []byte) (*HuggingfaceIndex, error) {
	return ParseHuggingface(bytes.NewReader(data))
}

// scanLines calls fn for every non-blank line with surrounding whitespace
// trimmed. Line numbers are 1-based and count blank lines.
func scanLines(r io.Reader, fn func(lineNo int, line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}
