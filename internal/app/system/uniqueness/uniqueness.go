// Package uniqueness turns duplicate-key failures from the store into
// validation errors that name the offending field.
package uniqueness

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const dupKeyCode = 11000

// DuplicateKeyError is a write rejected by a unique index. Fields lists
// the index keys reported by the store, in index order; it may be empty
// when the server did not report them.
type DuplicateKeyError struct {
	Fields []string
	Err    error
}

func (e *DuplicateKeyError) Error() string {
	if len(e.Fields) == 0 {
		return "duplicate key"
	}
	return "duplicate key on " + strings.Join(e.Fields, ", ")
}

func (e *DuplicateKeyError) Unwrap() error { return e.Err }

// FromMongo extracts a DuplicateKeyError from a driver error. It returns
// false if err is not a duplicate-key failure.
func FromMongo(err error) (*DuplicateKeyError, bool) {
	if err == nil {
		return nil, false
	}
	var dup *DuplicateKeyError
	if errors.As(err, &dup) {
		return dup, true
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == dupKeyCode {
				return &DuplicateKeyError{Fields: fieldsOf(e.Raw, e.Message), Err: err}, true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == dupKeyCode {
				return &DuplicateKeyError{Fields: fieldsOf(e.Raw, e.Message), Err: err}, true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == dupKeyCode {
		return &DuplicateKeyError{Fields: fieldsOf(ce.Raw, ce.Message), Err: err}, true
	}
	if wafflemongo.IsDup(err) {
		return &DuplicateKeyError{Fields: fieldsFromMessage(err.Error()), Err: err}, true
	}
	return nil, false
}

// fieldsOf prefers the structured keyPattern of the raw server error and
// falls back to the "dup key: { ... }" part of the message.
func fieldsOf(raw bson.Raw, msg string) []string {
	if len(raw) > 0 {
		if v, err := raw.LookupErr("keyPattern"); err == nil {
			if doc, ok := v.DocumentOK(); ok {
				elems, err := doc.Elements()
				if err == nil && len(elems) > 0 {
					out := make([]string, 0, len(elems))
					for _, el := range elems {
						out = append(out, el.Key())
					}
					return out
				}
			}
		}
	}
	return fieldsFromMessage(msg)
}

var (
	dupKeyBody   = regexp.MustCompile(`dup key: \{(.*)\}`)
	dupKeyName   = regexp.MustCompile(`(?:^|,)\s*([A-Za-z0-9_.$]+)\s*:`)
	quotedValues = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
)

func fieldsFromMessage(msg string) []string {
	m := dupKeyBody.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	// Values may contain ", name:" themselves; only keys are wanted.
	body := quotedValues.ReplaceAllString(m[1], `""`)
	var out []string
	for _, km := range dupKeyName.FindAllStringSubmatch(body, -1) {
		out = append(out, km[1])
	}
	return out
}

// Entity declares the unique fields of one entity. ScopeField is the
// tenant-scoping key that appears in compound unique indexes; it is never
// reported as the offending field.
type Entity struct {
	Name         string
	UniqueFields []string
	ScopeField   string
}

// Key returns the message key for a unique violation on field.
func (e Entity) Key(field string) string {
	return "entities." + e.Name + ".errors.unique." + field
}

// Translate rewrites a duplicate-key failure as an *apperr.ValidationError
// naming one field. Any other error, including nil, is returned unchanged.
func (e Entity) Translate(ctx context.Context, err error) error {
	dup, ok := FromMongo(err)
	if !ok {
		return err
	}
	field := e.offending(dup.Fields)
	ve := apperr.NewValidation(opctx.Locale(ctx), e.Key(field))
	ve.Field = field
	return ve
}

// offending picks the first reported field that is declared unique,
// ignoring the scope field.
func (e Entity) offending(fields []string) string {
	var candidates []string
	for _, f := range fields {
		if f != e.ScopeField {
			candidates = append(candidates, f)
		}
	}
	for _, f := range candidates {
		if slices.Contains(e.UniqueFields, f) {
			return f
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	if len(e.UniqueFields) > 0 {
		return e.UniqueFields[0]
	}
	return "unknown"
}
