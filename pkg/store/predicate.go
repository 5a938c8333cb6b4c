package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gorm.io/gorm/schema"
)

// Predicate is an equality filter: entity field name -> required value.
// Field names are Go struct field names and are validated against the
// entity's field set before any SQL is produced; only values ever reach the
// database as parameters.
type Predicate map[string]any

// Canonical returns a deterministic encoding of the predicate, suitable for
// hashing into cache keys. Fields are emitted in sorted order.
func (p Predicate) Canonical() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, p[k])
	}
	return b.String()
}

var naming = schema.NamingStrategy{}

// compilePredicate turns a predicate into a parameterized WHERE fragment.
// Unknown field names are an ErrValidation; identifiers are derived from the
// entity's own field set, never from raw caller input.
func compilePredicate[T any](p Predicate) (string, []any, error) {
	fields := fieldIndexes[T]()

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		f, ok := fields[k]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown filter field %q on %s", ErrValidation, k, entityTypeName[T]())
		}
		conds = append(conds, f.column+" = ?")
		args = append(args, p[k])
	}
	return strings.Join(conds, " AND "), args, nil
}

// entityField describes one filterable struct field of an entity.
type entityField struct {
	index  int
	column string
}

// fieldIndexes returns the exported, non-embedded struct fields of T keyed
// by field name. Column names honor a gorm "column:" tag override and
// otherwise follow the default naming strategy.
func fieldIndexes[T any]() map[string]entityField {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	fields := make(map[string]entityField, t.NumField())
	if t.Kind() != reflect.Struct {
		return fields
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		tag := f.Tag.Get("gorm")
		if tag == "-" {
			continue
		}
		column := naming.ColumnName("", f.Name)
		for _, setting := range strings.Split(tag, ";") {
			if v, ok := strings.CutPrefix(strings.TrimSpace(setting), "column:"); ok {
				column = v
			}
		}
		fields[f.Name] = entityField{index: i, column: column}
	}
	return fields
}

// validateFieldNames checks every name against the entity's field set.
func validateFieldNames[T any](names []string) error {
	fields := fieldIndexes[T]()
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w: unknown field %q on %s", ErrValidation, name, entityTypeName[T]())
		}
	}
	return nil
}

// applyFields assigns a field-name -> value map onto the entity. Unknown
// names and incompatible value types are rejected as ErrValidation.
func applyFields[T any](entity *T, fields map[string]any) error {
	v := reflect.ValueOf(entity).Elem()
	idx := fieldIndexes[T]()

	for name, raw := range fields {
		f, ok := idx[name]
		if !ok {
			return fmt.Errorf("%w: unknown field %q on %s", ErrValidation, name, entityTypeName[T]())
		}

		fv := v.Field(f.index)
		if raw == nil {
			fv.Set(reflect.Zero(fv.Type()))
			continue
		}

		rv := reflect.ValueOf(raw)
		switch {
		case rv.Type().AssignableTo(fv.Type()):
			fv.Set(rv)
		case fv.Kind() == reflect.String && rv.Kind() != reflect.String:
			// reflect treats int -> string as a rune conversion; reject it
			return fmt.Errorf("%w: field %q expects %s, got %T", ErrValidation, name, fv.Type(), raw)
		case rv.Type().ConvertibleTo(fv.Type()):
			converted := rv.Convert(fv.Type())
			if isLossyConversion(converted, rv) {
				return fmt.Errorf("%w: field %q cannot hold %v without loss", ErrValidation, name, raw)
			}
			fv.Set(converted)
		default:
			return fmt.Errorf("%w: field %q expects %s, got %T", ErrValidation, name, fv.Type(), raw)
		}
	}
	return nil
}

// isLossyConversion reports whether converting orig to converted discarded
// information, such as a fractional part truncated into an integer field or
// an overflow into a narrower width. Checked by converting back and
// comparing against the original value.
func isLossyConversion(converted, orig reflect.Value) bool {
	if !converted.Type().ConvertibleTo(orig.Type()) {
		return false
	}
	return !reflect.DeepEqual(converted.Convert(orig.Type()).Interface(), orig.Interface())
}
