package results

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiranshivaraju/sdkqual/pkg/sdk"
)

// LogTimeLayout renders entry timestamps as dd/mm/YYYY HH:MM:SS.
const LogTimeLayout = "02/01/2006 15:04:05"

// LogEntry is one line of a status log.
type LogEntry struct {
	Time        time.Time
	Requirement sdk.Requirement
	Link        string
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%s : %s : logs==%s", e.Time.Format(LogTimeLayout), e.Requirement, e.Link)
}

// ReadLog returns the entries of a log file, newest first. A missing file has
// no entries.
func ReadLog(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log %s: %w", path, err)
	}

	var entries []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan log %s: %w", path, err)
	}
	return entries, nil
}

// PrependLog writes entry at the top of the log at path and keeps at most
// maxEntries entries, dropping the oldest. Entries are separated by a blank line.
func PrependLog(path, entry string, maxEntries int) error {
	if maxEntries < 1 {
		return fmt.Errorf("log cap must be positive, got %d", maxEntries)
	}

	existing, err := ReadLog(path)
	if err != nil {
		return err
	}

	entries := make([]string, 0, len(existing)+1)
	entries = append(entries, entry)
	entries = append(entries, existing...)
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}

	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(e)
		buf.WriteString("\n\n")
	}
	return writeFileAtomic(path, buf.Bytes())
}

// WriteMarker overwrites the qualified-version marker with req.
func WriteMarker(path string, req sdk.Requirement) error {
	return writeFileAtomic(path, []byte(req.String()))
}

// writeFileAtomic replaces path through a temp file and rename, creating
// parent folders as needed.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".qualifier-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
