package platform

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Guliveer/vitalis/probe/internal/errors"
)

var errFactory = errors.New()

func unavailable(reason string) error {
	return errFactory.WithMessage(errors.ErrUnavailable, reason)
}

// processGone reports whether a per-process read failed because the process
// exited after it was enumerated.
func processGone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ESRCH)
}

// classify wraps a backend error, tagging retryable OS conditions as transient
// and unimplemented reads as unavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EINTR) {
		return errFactory.Wrap(errors.ErrTransient, fmt.Errorf("%s: %w", op, err))
	}
	if strings.Contains(err.Error(), "not implemented") {
		return errFactory.Wrap(errors.ErrUnavailable, fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
