package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marrowlabs/ferryman/internal/wire"
)

// transcriptHeader is the first line of an agent transcript file.
type transcriptHeader struct {
	Type          string `json:"type"` // "session"
	Version       int    `json:"version,omitempty"`
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Cwd           string `json:"cwd,omitempty"`
	ParentSession string `json:"parentSession,omitempty"`
}

// transcriptEntry is any line after the header.
type transcriptEntry struct {
	Type      string          `json:"type"` // "message", "session_info", ...
	ID        string          `json:"id,omitempty"`
	ParentID  string          `json:"parentId,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Name      string          `json:"name,omitempty"`
}

// TranscriptMeta is the read-only metadata extracted from one transcript.
type TranscriptMeta struct {
	ID           string
	Path         string
	Cwd          string
	Title        string
	Parent       string
	MessageCount int
	Modified     time.Time
}

const transcriptScanBuffer = 1024 * 1024

// readTranscriptMeta scans one transcript file for its header and summary
// metadata. Unparseable entry lines are skipped, not fatal.
func readTranscriptMeta(path string) (*TranscriptMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), transcriptScanBuffer)

	if !scanner.Scan() {
		return nil, fmt.Errorf("transcript %s: empty file", path)
	}
	var header transcriptHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil || header.Type != "session" {
		return nil, fmt.Errorf("transcript %s: missing session header", path)
	}

	meta := &TranscriptMeta{
		ID:     header.ID,
		Path:   path,
		Cwd:    header.Cwd,
		Parent: header.ParentSession,
	}
	for scanner.Scan() {
		var entry transcriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		switch entry.Type {
		case "message":
			meta.MessageCount++
		case "session_info":
			if entry.Name != "" {
				meta.Title = entry.Name
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("transcript %s: %w", path, err)
	}

	if info, err := f.Stat(); err == nil {
		meta.Modified = info.ModTime()
	}
	return meta, nil
}

// readTranscriptMessages returns the decoded message entries in file order.
func readTranscriptMessages(path string) ([]wire.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), transcriptScanBuffer)

	var messages []wire.Message
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		var entry transcriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Type != "message" || len(entry.Message) == 0 {
			continue
		}
		var msg wire.Message
		if err := json.Unmarshal(entry.Message, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, scanner.Err()
}

// scanTranscriptDir walks a directory for transcript files and maps each
// session id to its path. Files without a valid header are ignored.
func scanTranscriptDir(dir string) map[string]string {
	found := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return found
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		meta, err := readTranscriptMeta(path)
		if err != nil || meta.ID == "" {
			continue
		}
		found[meta.ID] = path
	}
	return found
}

// forkTranscript copies srcPath into destDir under a fresh session id,
// rewriting the header with a parentSession back-reference. All lines
// after the header are copied verbatim, order preserved.
func forkTranscript(srcPath, destDir, newID string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("fork: open source: %w", err)
	}
	defer src.Close()

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), transcriptScanBuffer)

	if !scanner.Scan() {
		return "", fmt.Errorf("fork: source %s is empty", srcPath)
	}
	var header transcriptHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil || header.Type != "session" {
		return "", fmt.Errorf("fork: source %s has no session header", srcPath)
	}

	header.ID = newID
	header.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	header.ParentSession = srcPath
	headerLine, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("fork: encode header: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("fork: create dest dir: %w", err)
	}
	destPath := filepath.Join(destDir, newID+".jsonl")
	tmpPath := destPath + ".tmp"

	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("fork: create dest: %w", err)
	}

	w := bufio.NewWriter(out)
	write := func(line []byte) error {
		if _, err := w.Write(line); err != nil {
			return err
		}
		return w.WriteByte('\n')
	}

	if err := write(headerLine); err == nil {
		for scanner.Scan() {
			if err = write(scanner.Bytes()); err != nil {
				break
			}
		}
		if err == nil {
			err = scanner.Err()
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("fork: write dest: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("fork: finalize dest: %w", err)
	}
	return destPath, nil
}
