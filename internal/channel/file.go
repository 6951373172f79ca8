package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/keller/swarmd/internal/filelock"
	"github.com/keller/swarmd/internal/models"
)

// FileChannel is a Channel backed by an append-only JSON-lines ledger on
// disk, shared between independent processes. Writers serialize appends
// through a flock-guarded append; readers take a shared lock so they never
// observe a torn line.
//
// An fsnotify watcher on the ledger directory lets Poll block briefly for
// new messages instead of spinning, while the overall wait remains bounded
// by the caller's timeout.
type FileChannel struct {
	path     string
	pollWait time.Duration

	watcher *fsnotify.Watcher
	changed chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	dropped int
}

// NewFileChannel opens (or creates the directory for) a ledger at path.
// pollWait bounds how long a single Poll call may block waiting for new
// messages; zero makes Poll non-blocking.
func NewFileChannel(path string, pollWait time.Duration) (*FileChannel, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create ledger directory: %v", ErrChannelUnavailable, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: create watcher: %v", ErrChannelUnavailable, err)
	}
	// Watch the directory, not the file: the ledger may not exist yet.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrChannelUnavailable, dir, err)
	}

	fc := &FileChannel{
		path:     path,
		pollWait: pollWait,
		watcher:  watcher,
		changed:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go fc.processEvents()
	return fc, nil
}

// processEvents coalesces filesystem events on the ledger into a single
// change notification.
func (fc *FileChannel) processEvents() {
	for {
		select {
		case <-fc.done:
			return
		case event, ok := <-fc.watcher.Events:
			if !ok {
				return
			}
			if event.Name != fc.path {
				continue
			}
			select {
			case fc.changed <- struct{}{}:
			default:
			}
		case _, ok := <-fc.watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors degrade Poll to timer-based waiting only.
		}
	}
}

// Close stops the filesystem watcher. Broadcast and non-blocking Poll
// remain usable after Close.
func (fc *FileChannel) Close() error {
	select {
	case <-fc.done:
		return nil
	default:
	}
	close(fc.done)
	return fc.watcher.Close()
}

// Broadcast appends a validated envelope to the ledger as one JSON line.
func (fc *FileChannel) Broadcast(env models.Envelope) error {
	if err := validateOutbound(env); err != nil {
		return err
	}

	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := filelock.AppendLine(fc.path, line); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// Poll returns all messages published after the cursor. When the ledger
// has nothing new, Poll waits up to pollWait for a change notification
// before re-reading once.
func (fc *FileChannel) Poll(since Cursor) ([]models.Envelope, Cursor, error) {
	batch, next, err := fc.read(since)
	if err != nil || len(batch) > 0 || fc.pollWait <= 0 {
		return batch, next, err
	}

	// Drain any stale notification, then wait for a fresh one.
	select {
	case <-fc.changed:
	default:
	}

	timer := time.NewTimer(fc.pollWait)
	defer timer.Stop()
	select {
	case <-fc.changed:
	case <-timer.C:
	case <-fc.done:
	}

	return fc.read(since)
}

// read parses the ledger and returns entries after the cursor. Lines that
// fail to parse or validate are counted and skipped: one corrupt entry
// must not wedge every consumer of the ledger.
func (fc *FileChannel) read(since Cursor) ([]models.Envelope, Cursor, error) {
	data, err := filelock.ReadLocked(fc.path)
	if err != nil {
		return nil, since, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if len(data) == 0 {
		return nil, since, nil
	}

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if since < 0 {
		since = 0
	}
	if int(since) >= len(lines) {
		return nil, since, nil
	}

	var batch []models.Envelope
	for _, line := range lines[since:] {
		var env models.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			fc.noteDropped()
			continue
		}
		if err := env.Validate(); err != nil {
			fc.noteDropped()
			continue
		}
		batch = append(batch, env)
	}
	return batch, Cursor(len(lines)), nil
}

func (fc *FileChannel) noteDropped() {
	fc.mu.Lock()
	fc.dropped++
	fc.mu.Unlock()
}

// Dropped returns the number of malformed ledger lines skipped so far.
func (fc *FileChannel) Dropped() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.dropped
}
