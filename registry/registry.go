package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/luigi-project/hearth/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for a module path.
	ErrNotFound = errors.New("registry: module not found")

	// ErrCorrupt is returned when a stored record cannot be parsed. Corrupt
	// records are always surfaced to the caller, never skipped or guessed at.
	ErrCorrupt = errors.New("registry: corrupt record")
)

// keySeparator replaces the slash of a module path in on-disk file names.
const keySeparator = "__"

// Store is the durable, keyed collection of module records. One JSON document
// per module lives under the injected root directory; every mutation rewrites
// the whole document through an atomic rename so concurrent readers never
// observe a half-written record.
type Store struct {
	root       string
	configRoot string
	logRoot    string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Store rooted at the given directory, creating it if needed.
// The config and log roots are only used to derive the conventional artifact
// paths stamped onto records at upsert time.
func New(root, configRoot, logRoot string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "registry: failed to create registry root")
	}
	return &Store{
		root:       root,
		configRoot: configRoot,
		logRoot:    logRoot,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the directory this store persists records under.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) recordPath(modulePath string) string {
	return filepath.Join(s.root, strings.ReplaceAll(modulePath, "/", keySeparator)+".json")
}

// keyLock returns the in-process mutex serializing writers for one module
// path. Cross-process writers are additionally serialized by a file lock,
// see acquireFileLock.
func (s *Store) keyLock(modulePath string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[modulePath]
	if !ok {
		l = &sync.Mutex{}
		s.locks[modulePath] = l
	}
	return l
}

// Get returns the record stored for a module path, including soft-deleted
// records.
func (s *Store) Get(ctx context.Context, modulePath string) (*models.ModuleRecord, error) {
	_, rec, err := s.readDocument(s.recordPath(modulePath))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List enumerates the stored records. Records in the removed state are
// excluded unless includeRemoved is set. A record that cannot be parsed
// fails the whole listing: silently dropping it would present an incomplete
// registry as complete.
func (s *Store) List(ctx context.Context, includeRemoved bool) ([]models.ModuleRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(err, "registry: failed to read registry root")
	}
	out := make([]models.ModuleRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		_, rec, err := s.readDocument(filepath.Join(s.root, entry.Name()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Raced with a writer mid-rename; the record will show up on
				// the next listing.
				continue
			}
			return nil, err
		}
		if rec.IsRemoved() && !includeRemoved {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Upsert creates or replaces the record for a module path. On first creation
// installed_at is stamped; on every later call it is preserved no matter how
// many times the record is rewritten. All metadata fields are replaced by the
// supplied values, the derived fields are recomputed from the naming
// convention, and updated_at is bumped. Fields the store does not know about
// survive the rewrite untouched.
func (s *Store) Upsert(ctx context.Context, modulePath string, meta models.ModuleMetadata, status models.ModuleStatus) (*models.ModuleRecord, error) {
	category, name, err := models.SplitModulePath(modulePath)
	if err != nil {
		return nil, err
	}
	var out *models.ModuleRecord
	err = s.withWriteLock(ctx, modulePath, func(path string) error {
		doc, existing, err := s.readDocument(path)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.now()
		rec := &models.ModuleRecord{
			ModulePath:     modulePath,
			Name:           name,
			Category:       category,
			Version:        meta.Version,
			Description:    meta.Description,
			Author:         meta.Author,
			Status:         status,
			Capabilities:   meta.Capabilities,
			Dependencies:   meta.Dependencies,
			AptPackages:    meta.AptPackages,
			Provides:       meta.Provides,
			Hardware:       meta.Hardware,
			ServiceName:    models.ServiceNameFor(name),
			ConfigPath:     models.ConfigPathFor(s.configRoot, category, name),
			LogPath:        models.LogPathFor(s.logRoot, name),
			InstalledAt:    now,
			UpdatedAt:      now,
			InstalledBy:    meta.InstalledBy,
			InstallMethod:  meta.InstallMethod,
			ServiceEnabled: meta.ServiceEnabled,
		}
		if existing != nil {
			rec.InstalledAt = existing.InstalledAt
			rec.UpdatedAt = nextTimestamp(existing.UpdatedAt, now)
		}

		if err := s.writeDocument(path, doc, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"module": modulePath, "status": string(status)}).Debug("registry: record upserted")
	return out, nil
}

// SetStatus performs a partial update touching only the status fields and
// updated_at; everything else on the record is left untouched.
func (s *Store) SetStatus(ctx context.Context, modulePath string, status models.ModuleStatus, serviceEnabled bool) (*models.ModuleRecord, error) {
	return s.mutate(ctx, modulePath, func(rec *models.ModuleRecord) error {
		rec.Status = status
		rec.ServiceEnabled = serviceEnabled
		return nil
	})
}

// MarkRemoved soft-deletes a record: the module is marked removed and its
// service flagged disabled, but the record itself is retained indefinitely
// and stays retrievable through Get.
func (s *Store) MarkRemoved(ctx context.Context, modulePath string) (*models.ModuleRecord, error) {
	return s.mutate(ctx, modulePath, func(rec *models.ModuleRecord) error {
		rec.Status = models.StatusRemoved
		rec.ServiceEnabled = false
		return nil
	})
}

// mutate applies a partial in-memory change to an existing record and writes
// the whole document back. NotFound if no record exists for the module path.
func (s *Store) mutate(ctx context.Context, modulePath string, fn func(*models.ModuleRecord) error) (*models.ModuleRecord, error) {
	var out *models.ModuleRecord
	err := s.withWriteLock(ctx, modulePath, func(path string) error {
		doc, rec, err := s.readDocument(path)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		rec.UpdatedAt = nextTimestamp(rec.UpdatedAt, s.now())
		if err := s.writeDocument(path, doc, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withWriteLock serializes a write to one record against both in-process and
// cross-process writers, then runs fn with the record's on-disk path.
func (s *Store) withWriteLock(ctx context.Context, modulePath string, fn func(path string) error) error {
	l := s.keyLock(modulePath)
	l.Lock()
	defer l.Unlock()

	path := s.recordPath(modulePath)
	release, err := acquireFileLock(ctx, path+".lock")
	if err != nil {
		return err
	}
	defer release()

	return fn(path)
}

func (s *Store) now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// nextTimestamp keeps updated_at strictly increasing even when two writes
// land inside the same millisecond.
func nextTimestamp(previous, now time.Time) time.Time {
	if now.After(previous) {
		return now
	}
	return previous.Add(time.Millisecond)
}
