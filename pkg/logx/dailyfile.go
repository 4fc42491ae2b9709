package logx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DailyFile is an io.Writer that appends to <dir>/<prefix>_YYYYMMDD.log and
// switches to a new file the first time it is written to on a new local day.
type DailyFile struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// OpenDailyFile creates dir if needed and opens today's file.
func OpenDailyFile(dir, prefix string) (*DailyFile, error) {
	return openDailyFile(dir, prefix, time.Now)
}

func openDailyFile(dir, prefix string, now func() time.Time) (*DailyFile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "logs"
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tgscraper"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	d := &DailyFile{dir: dir, prefix: prefix, now: now}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateLocked(now().Format("20060102")); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the file currently written to.
func (d *DailyFile) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pathFor(d.day)
}

func (d *DailyFile) pathFor(day string) string {
	return filepath.Join(d.dir, d.prefix+"_"+day+".log")
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if day := d.now().Format("20060102"); day != d.day || d.file == nil {
		if err := d.rotateLocked(day); err != nil {
			return 0, err
		}
	}
	return d.file.Write(p)
}

func (d *DailyFile) rotateLocked(day string) error {
	f, err := os.OpenFile(d.pathFor(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if d.file != nil {
		_ = d.file.Close()
	}
	d.file = f
	d.day = day
	return nil
}

func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
