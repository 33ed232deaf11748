package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Ledger keeps the pending and failed identifier files. One mutex guards
// both so a pending rewrite never interleaves with a failed append.
type Ledger struct {
	mu          sync.Mutex
	PendingPath string
	FailedPath  string
}

func New(pendingPath string, failedPath string) *Ledger {
	return &Ledger{PendingPath: pendingPath, FailedPath: failedPath}
}

// Reset truncates the failed ledger for a fresh run.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailedPath == "" {
		return nil
	}
	return os.WriteFile(l.FailedPath, nil, 0644)
}

// Seed writes ids as the pending ledger.
func (l *Ledger) Seed(ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.PendingPath == "" {
		return nil
	}
	return writeLines(l.PendingPath, ids)
}

// Resume narrows ids to those still listed in an existing pending ledger.
// When there is no pending file yet it is seeded with ids.
func (l *Ledger) Resume(ids []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.PendingPath == "" {
		return ids, nil
	}
	lines, err := readLines(l.PendingPath)
	if os.IsNotExist(err) {
		return ids, writeLines(l.PendingPath, ids)
	}
	if err != nil {
		return nil, err
	}
	pending := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		pending[strings.ToLower(line)] = struct{}{}
	}
	ret := make([]string, 0, len(lines))
	for _, id := range ids {
		if _, ok := pending[strings.ToLower(id)]; ok {
			ret = append(ret, id)
		}
	}
	log.Infof("Resuming from %s: %d of %d identifiers still pending", l.PendingPath, len(ret), len(ids))
	return ret, nil
}

func (l *Ledger) MarkFailed(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailedPath == "" {
		return nil
	}
	f, err := os.OpenFile(l.FailedPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err = f.WriteString(id + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MarkSucceeded drops every case-insensitive match of id from the pending ledger.
func (l *Ledger) MarkSucceeded(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.PendingPath == "" {
		return nil
	}
	lines, err := readLines(l.PendingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	kept := lines[:0]
	for _, line := range lines {
		if !strings.EqualFold(strings.TrimSpace(line), id) {
			kept = append(kept, line)
		}
	}
	if len(kept) == len(lines) {
		return nil
	}
	return writeLines(l.PendingPath, kept)
}

// Pending returns the identifiers currently in the pending ledger.
func (l *Ledger) Pending() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ReadWorkList(l.PendingPath, false)
}

func (l *Ledger) Failed() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ReadWorkList(l.FailedPath, false)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// writeLines replaces path through a sibling temp file and rename. An
// existing file keeps its permissions.
func writeLines(path string, lines []string) error {
	mode := os.FileMode(0644)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if err = tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		_, _ = w.WriteString(line)
		_ = w.WriteByte('\n')
	}
	if err = w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// ReadWorkList reads one identifier per line, skipping blanks, and
// non-integers when numeric is set.
func ReadWorkList(path string, numeric bool) ([]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if !numeric {
		return lines, nil
	}
	ids := lines[:0]
	for _, line := range lines {
		if _, err := strconv.Atoi(line); err != nil {
			log.Debugf("Skipping non-numeric id %q", line)
			continue
		}
		ids = append(ids, line)
	}
	return ids, nil
}

// RangeWorkList expands the inclusive range start..end.
func RangeWorkList(start int, end int) ([]string, error) {
	if end < start {
		return nil, fmt.Errorf("ID range %d - %d is empty", start, end)
	}
	ids := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		ids = append(ids, strconv.Itoa(i))
	}
	return ids, nil
}

// Dedupe keeps the first occurrence of each identifier, ignoring case.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	ret := make([]string, 0, len(ids))
	for _, id := range ids {
		key := strings.ToLower(id)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ret = append(ret, id)
	}
	return ret
}
