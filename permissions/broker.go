// Package permissions maintains the security boundary that lets the single
// administrative process read artifacts owned by many independent per-module
// service users. Everything here is advisory: a module must keep working even
// when the admin layer temporarily loses visibility into it, so failures are
// reported for logging but must never abort an install or removal flow.
package permissions

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/acobaugh/osrelease"
	"github.com/apex/log"
)

// ErrSetupFailed wraps every failure produced by the broker so callers can
// recognize the whole class as advisory.
var ErrSetupFailed = errors.New("permissions: setup failed")

// Modes applied per artifact class. Configuration is broadly readable;
// logs are considered more sensitive and get group-read only.
const (
	configDirMode  = os.FileMode(0o755)
	configFileMode = os.FileMode(0o644)
	logFileMode    = os.FileMode(0o640)
)

// Runner executes a host command and returns its combined output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// hostOps are the identity-resolution and ownership primitives the broker
// needs from the host. They are swappable because exercising the real ones
// requires root.
type hostOps struct {
	lookupUser  func(username string) (*user.User, error)
	lookupGroup func(name string) (*user.Group, error)
	userGroups  func(u *user.User) ([]string, error)
	chown       func(path string, uid, gid int) error
}

func defaultHostOps() hostOps {
	return hostOps{
		lookupUser:  user.Lookup,
		lookupGroup: user.LookupGroup,
		userGroups:  func(u *user.User) ([]string, error) { return u.GroupIds() },
		chown:       os.Chown,
	}
}

// Broker stamps ownership and modes on module artifacts and manages the
// shared group and per-module service identities. A single Broker is shared
// across concurrent install flows.
type Broker struct {
	sharedGroup string
	runner      Runner
	host        hostOps

	// Release ID from os-release, resolved once on first use. Alpine ships
	// the BusyBox user tooling which takes different flags than shadow-utils.
	osOnce sync.Once
	osID   string
}

// NewBroker returns a broker managing artifacts under the given shared group.
func NewBroker(sharedGroup string) *Broker {
	return &Broker{
		sharedGroup: sharedGroup,
		runner:      execRunner{},
		host:        defaultHostOps(),
	}
}

// NewBrokerWithRunner is NewBroker with a substitute command runner, used by
// tests to avoid mutating the host.
func NewBrokerWithRunner(sharedGroup string, runner Runner) *Broker {
	b := NewBroker(sharedGroup)
	b.runner = runner
	return b
}

// SharedGroup returns the name of the group bridging module owners and the
// administrative reader.
func (b *Broker) SharedGroup() string {
	return b.sharedGroup
}

func (b *Broker) systemName() string {
	b.osOnce.Do(func() {
		if b.osID != "" {
			return
		}
		release, err := osrelease.Read()
		if err != nil {
			log.WithField("error", err).Debug("permissions: could not read os-release, assuming shadow-utils tooling")
			b.osID = "linux"
			return
		}
		b.osID = release["ID"]
	})
	return b.osID
}

func (b *Broker) isAlpine() bool {
	return strings.HasPrefix(b.systemName(), "alpine")
}

// EnsureSharedGroup creates the shared group if it does not exist yet.
// Calling it again once the group exists does nothing and reports no error.
func (b *Broker) EnsureSharedGroup(ctx context.Context) error {
	if _, err := b.host.lookupGroup(b.sharedGroup); err == nil {
		return nil
	} else if _, ok := err.(user.UnknownGroupError); !ok {
		return errors.Wrapf(ErrSetupFailed, "looking up group %s: %s", b.sharedGroup, err)
	}

	log.WithField("group", b.sharedGroup).Info("permissions: creating shared group")
	var out []byte
	var err error
	if b.isAlpine() {
		out, err = b.runner.Output(ctx, "addgroup", "-S", b.sharedGroup)
	} else {
		out, err = b.runner.Output(ctx, "groupadd", "--system", b.sharedGroup)
	}
	if err != nil {
		// A concurrent caller may have created the group between the lookup
		// and the create; the group existing is the outcome that matters.
		if _, lerr := b.host.lookupGroup(b.sharedGroup); lerr == nil {
			return nil
		}
		return errors.Wrapf(ErrSetupFailed, "creating group %s: %s: %s", b.sharedGroup, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CreateServiceIdentity ensures a per-module system user exists to run the
// module's long-lived process under least privilege. If the user already
// exists only its home directory and group memberships are reconciled; if
// not, a non-interactive system account is created and then added to the
// shared group plus any requested hardware-access groups.
func (b *Broker) CreateServiceIdentity(ctx context.Context, username, description, homeDir string, extraGroups ...string) error {
	u, err := b.host.lookupUser(username)
	if err != nil {
		if _, ok := err.(user.UnknownUserError); !ok {
			return errors.Wrapf(ErrSetupFailed, "looking up user %s: %s", username, err)
		}
		if err := b.createUser(ctx, username, description, homeDir); err != nil {
			return err
		}
		u, err = b.host.lookupUser(username)
		if err != nil {
			return errors.Wrapf(ErrSetupFailed, "user %s missing after creation: %s", username, err)
		}
	}

	if homeDir != "" {
		if err := os.MkdirAll(homeDir, 0o750); err != nil {
			return errors.Wrapf(ErrSetupFailed, "creating home directory %s: %s", homeDir, err)
		}
		if uid, gid, err := ids(u); err == nil {
			if err := b.host.chown(homeDir, uid, gid); err != nil {
				return errors.Wrapf(ErrSetupFailed, "chowning home directory %s: %s", homeDir, err)
			}
		}
	}

	groups := append([]string{b.sharedGroup}, extraGroups...)
	return b.ensureMemberships(ctx, u, groups)
}

func (b *Broker) createUser(ctx context.Context, username, description, homeDir string) error {
	log.WithFields(log.Fields{"username": username, "home": homeDir}).Info("permissions: creating service identity")
	var out []byte
	var err error
	if b.isAlpine() {
		// BusyBox adduser needs the primary group to exist first.
		if gout, gerr := b.runner.Output(ctx, "addgroup", "-S", username); gerr != nil {
			return errors.Wrapf(ErrSetupFailed, "creating primary group %s: %s: %s", username, gerr, strings.TrimSpace(string(gout)))
		}
		out, err = b.runner.Output(ctx, "adduser", "-S", "-D", "-G", username, "-h", homeDir, "-g", description, "-s", "/sbin/nologin", username)
	} else {
		out, err = b.runner.Output(ctx, "useradd",
			"--system",
			"--shell", "/usr/sbin/nologin",
			"--home-dir", homeDir,
			"--no-create-home",
			"--comment", description,
			username,
		)
	}
	if err != nil {
		return errors.Wrapf(ErrSetupFailed, "creating user %s: %s: %s", username, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ensureMemberships adds the user to every group it is not already in.
func (b *Broker) ensureMemberships(ctx context.Context, u *user.User, groups []string) error {
	current := make(map[string]struct{})
	if gids, err := b.host.userGroups(u); err == nil {
		for _, gid := range gids {
			if g, err := user.LookupGroupId(gid); err == nil {
				current[g.Name] = struct{}{}
			}
		}
	}

	for _, group := range groups {
		if group == "" {
			continue
		}
		if _, member := current[group]; member {
			continue
		}
		var out []byte
		var err error
		if b.isAlpine() {
			out, err = b.runner.Output(ctx, "addgroup", u.Username, group)
		} else {
			out, err = b.runner.Output(ctx, "usermod", "-aG", group, u.Username)
		}
		if err != nil {
			return errors.Wrapf(ErrSetupFailed, "adding %s to group %s: %s: %s", u.Username, group, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

func ids(u *user.User) (int, int, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, err
	}
	return uid, gid, nil
}
