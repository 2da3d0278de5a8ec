package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Guliveer/vitalis/probe/internal/errors"
)

var errFactory = errors.New()

// FileName returns the default report file name for a generation time.
func FileName(t time.Time) string {
	return fmt.Sprintf("report_%s.txt", t.UTC().Format("20060102_150405"))
}

// WriteFile writes a rendered report to path as plain UTF-8 text. The file
// is written to a temporary sibling first and renamed into place, so a
// reader never sees a partial report.
func WriteFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errFactory.Wrap(errors.ErrReportWrite, fmt.Errorf("creating %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return errFactory.Wrap(errors.ErrReportWrite, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return errFactory.Wrap(errors.ErrReportWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return errFactory.Wrap(errors.ErrReportWrite, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errFactory.Wrap(errors.ErrReportWrite, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errFactory.Wrap(errors.ErrReportWrite, fmt.Errorf("writing %s: %w", path, err))
	}
	return nil
}
