package registry

import (
	"context"
	"strings"

	"emperror.dev/errors"
	"github.com/goccy/go-json"

	"github.com/luigi-project/hearth/internal/models"
)

// reservedFields cannot be touched through SetField: the key and the derived
// or timestamp fields are owned by the store itself.
var reservedFields = map[string]struct{}{
	"module_path":  {},
	"name":         {},
	"category":     {},
	"service_name": {},
	"config_path":  {},
	"log_path":     {},
	"installed_at": {},
	"updated_at":   {},
}

// SetField updates a single field on a stored record and bumps updated_at,
// leaving everything else untouched. This is the extension point for
// module-specific metadata the base schema does not model; dotted paths
// address nested values ("hardware.gpio_pins"). Schema fields may be set too,
// as long as the value decodes into the typed record.
func (s *Store) SetField(ctx context.Context, modulePath string, field string, value interface{}) (*models.ModuleRecord, error) {
	if field == "" {
		return nil, errors.New("registry: field name must not be empty")
	}
	top := strings.SplitN(field, ".", 2)[0]
	if _, reserved := reservedFields[top]; reserved {
		return nil, errors.Errorf("registry: field %s is managed by the store and cannot be set directly", top)
	}

	var out *models.ModuleRecord
	err := s.withWriteLock(ctx, modulePath, func(path string) error {
		doc, rec, err := s.readDocument(path)
		if err != nil {
			return err
		}
		if _, err := doc.SetP(value, field); err != nil {
			return errors.Wrapf(err, "registry: failed to set field %s", field)
		}
		// Re-decode so a write to a schema field is reflected in the typed
		// record (and rejected right here if the value is incompatible).
		updated := *rec
		if err := json.Unmarshal(doc.Bytes(), &updated); err != nil {
			return errors.Wrapf(err, "registry: value for field %s does not fit the record schema", field)
		}
		updated.UpdatedAt = nextTimestamp(rec.UpdatedAt, s.now())
		if err := s.writeDocument(path, doc, &updated); err != nil {
			return err
		}
		out = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
