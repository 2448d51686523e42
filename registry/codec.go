package registry

import (
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/Jeffail/gabs/v2"
	"github.com/goccy/go-json"

	"github.com/luigi-project/hearth/internal/models"
)

// knownFields are the top-level keys owned by the typed record schema. A
// rewrite clears them before stamping the new values so that optionals the
// caller dropped do not linger in the stored document. Keys outside this list
// are carried through untouched for forward compatibility.
var knownFields = []string{
	"module_path", "name", "category",
	"version", "description", "author",
	"status", "capabilities", "dependencies",
	"apt_packages", "provides", "hardware",
	"service_name", "config_path", "log_path",
	"installed_at", "updated_at",
	"installed_by", "install_method",
	"service_enabled",
}

// readDocument loads a stored record both as a raw JSON document (preserving
// keys the schema does not know about) and as a typed record. A document that
// exists but cannot be parsed is corrupt and is surfaced as such.
func (s *Store) readDocument(path string) (*gabs.Container, *models.ModuleRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, errors.Wrapf(err, "registry: failed to read record %s", filepath.Base(path))
	}
	doc, err := gabs.ParseJSON(b)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrCorrupt, "%s: %s", filepath.Base(path), err)
	}
	var rec models.ModuleRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, nil, errors.Wrapf(ErrCorrupt, "%s: %s", filepath.Base(path), err)
	}
	if rec.ModulePath == "" {
		return nil, nil, errors.Wrapf(ErrCorrupt, "%s: missing module_path", filepath.Base(path))
	}
	return doc, &rec, nil
}

// writeDocument merges the typed record over the previously stored document
// and replaces the file atomically. The temp-file-plus-rename dance keeps a
// concurrent reader from ever observing a partially written record.
func (s *Store) writeDocument(path string, doc *gabs.Container, rec *models.ModuleRecord) error {
	if doc == nil {
		doc = gabs.New()
	}
	for _, key := range knownFields {
		_ = doc.Delete(key)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "registry: failed to encode record")
	}
	recDoc, err := gabs.ParseJSON(b)
	if err != nil {
		return errors.Wrap(err, "registry: failed to re-parse encoded record")
	}
	for key, child := range recDoc.ChildrenMap() {
		if _, err := doc.Set(child.Data(), key); err != nil {
			return errors.Wrapf(err, "registry: failed to set field %s", key)
		}
	}
	return atomicWrite(path, doc.BytesIndent("", "  "))
}

// atomicWrite replaces the target file through a rename within the same
// directory, which is atomic on POSIX filesystems.
func atomicWrite(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "registry: failed to create temp record")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "registry: failed to write temp record")
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return errors.Wrap(err, "registry: failed to chmod temp record")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "registry: failed to close temp record")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "registry: failed to replace record")
	}
	return nil
}
