//go:build !linux

package stress

import "github.com/Guliveer/vitalis/probe/internal/errors"

func pinToCore(int) error {
	return errFactory.WithMessage(errors.ErrUnavailable, "thread affinity not supported on this platform")
}
