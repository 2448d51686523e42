package registry

import (
	"context"
	"os"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// acquireFileLock takes an exclusive advisory lock on the given lock file,
// retrying with exponential backoff while another process holds it. The
// returned function releases the lock. Installation routines and the admin
// daemon run as separate processes, so an in-process mutex alone is not
// enough to serialize writers on one record.
func acquireFileLock(ctx context.Context, path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "registry: failed to open lock file")
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(25*time.Millisecond),
		backoff.WithMaxInterval(500*time.Millisecond),
		backoff.WithMaxElapsedTime(10*time.Second),
	), ctx)

	err = backoff.Retry(func() error {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "registry: timed out waiting for record lock")
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
