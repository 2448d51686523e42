package permissions

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"emperror.dev/errors"
	"github.com/apex/log"
)

// GrantConfigAccess makes a module's configuration directory readable by the
// shared group without making it writable. The owning user is left unchanged
// (conventionally the privileged installer); directories become traversable
// (0755) and files group-readable (0644). Safe to call repeatedly.
func (b *Broker) GrantConfigAccess(ctx context.Context, path string) error {
	gid, err := b.sharedGid()
	if err != nil {
		return err
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		mode := configFileMode
		if d.IsDir() {
			mode = configDirMode
		}
		if err := b.host.chown(p, -1, gid); err != nil {
			return errors.Wrapf(err, "chgrp %s", p)
		}
		if err := os.Chmod(p, mode); err != nil {
			return errors.Wrapf(err, "chmod %s", p)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(ErrSetupFailed, "granting config access to %s: %s", path, err)
	}
	log.WithField("path", path).Debug("permissions: config access granted")
	return nil
}

// GrantLogAccess makes a module's log file readable by the shared group and
// nobody else beyond its owner. The file is created if it does not exist
// yet; ownership goes to the module's own service user so the module can
// keep appending to it. Log artifacts get a stricter mode (0640) than
// configuration because they are higher-volume and more sensitive.
func (b *Broker) GrantLogAccess(ctx context.Context, path string, owningUser string) error {
	gid, err := b.sharedGid()
	if err != nil {
		return err
	}
	u, err := b.host.lookupUser(owningUser)
	if err != nil {
		return errors.Wrapf(ErrSetupFailed, "looking up owner %s for %s: %s", owningUser, path, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return errors.Wrapf(ErrSetupFailed, "unparseable uid for %s: %s", owningUser, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(ErrSetupFailed, "creating log directory for %s: %s", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFileMode)
	if err != nil {
		return errors.Wrapf(ErrSetupFailed, "creating log file %s: %s", path, err)
	}
	f.Close()

	if err := b.host.chown(path, uid, gid); err != nil {
		return errors.Wrapf(ErrSetupFailed, "chowning log file %s: %s", path, err)
	}
	if err := os.Chmod(path, logFileMode); err != nil {
		return errors.Wrapf(ErrSetupFailed, "chmodding log file %s: %s", path, err)
	}
	log.WithFields(log.Fields{"path": path, "owner": owningUser}).Debug("permissions: log access granted")
	return nil
}

// sharedGid resolves the shared group's numeric id.
func (b *Broker) sharedGid() (int, error) {
	g, err := b.host.lookupGroup(b.sharedGroup)
	if err != nil {
		return 0, errors.Wrapf(ErrSetupFailed, "shared group %s does not exist: %s", b.sharedGroup, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, errors.Wrapf(ErrSetupFailed, "unparseable gid for group %s: %s", b.sharedGroup, err)
	}
	return gid, nil
}
