package docstore

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Doc is a stored document.
type Doc struct {
	Collection string
	ID         string
	Data       json.RawMessage
	Version    int64
}

// Decode unmarshals the document body into v.
func (d *Doc) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Path returns collection/id.
func (d *Doc) Path() string {
	return d.Collection + "/" + d.ID
}

// OpKind is the kind of a batch operation.
type OpKind string

const (
	// OpCreate writes a new document and fails with ErrExists if it is present.
	OpCreate OpKind = "create"
	// OpSet writes a whole document, creating it when absent.
	OpSet OpKind = "set"
	// OpUpdate merges top-level fields into an existing document.
	OpUpdate OpKind = "update"
	// OpDelete removes a document. Deleting an absent document is a no-op.
	OpDelete OpKind = "delete"
	// OpCheck writes nothing; it only asserts a version.
	OpCheck OpKind = "check"
)

// Op is one operation in a batch commit.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Data       json.RawMessage
	Fields     map[string]any

	// Precondition, when set, is the version the document must have at the
	// moment the op is applied. Zero means the document must not exist.
	Precondition *int64

	err error
}

// Create builds an OpCreate for v.
func Create(collection, id string, v any) Op {
	op := Op{Kind: OpCreate, Collection: collection, ID: id}
	op.Data, op.err = json.Marshal(v)
	return op
}

// Set builds an OpSet for v.
func Set(collection, id string, v any) Op {
	op := Op{Kind: OpSet, Collection: collection, ID: id}
	op.Data, op.err = json.Marshal(v)
	return op
}

// Update builds an OpUpdate. Field values replace the stored values; a nil
// value stores JSON null.
func Update(collection, id string, fields map[string]any) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields}
}

// Delete builds an OpDelete.
func Delete(collection, id string) Op {
	return Op{Kind: OpDelete, Collection: collection, ID: id}
}

// Check builds an OpCheck asserting the document is at version. A version of
// zero asserts the document does not exist.
func Check(collection, id string, version int64) Op {
	return Op{Kind: OpCheck, Collection: collection, ID: id, Precondition: &version}
}

// IfVersion returns a copy of op that only applies when the document is at
// version.
func (op Op) IfVersion(version int64) Op {
	op.Precondition = &version
	return op
}

func (op Op) validate() error {
	if op.err != nil {
		return fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, op.ID, op.err)
	}
	if op.Collection == "" || op.ID == "" {
		return fmt.Errorf("%s: collection and id are required", op.Kind)
	}
	switch op.Kind {
	case OpCreate, OpSet:
		if len(op.Data) == 0 {
			return fmt.Errorf("%s %s/%s: empty document", op.Kind, op.Collection, op.ID)
		}
	case OpUpdate:
		for field := range op.Fields {
			if !fieldPattern.MatchString(field) {
				return fmt.Errorf("update %s/%s: invalid field name %q", op.Collection, op.ID, field)
			}
		}
	case OpDelete:
	case OpCheck:
		if op.Precondition == nil {
			return fmt.Errorf("check %s/%s: missing version", op.Collection, op.ID)
		}
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

// fieldPattern restricts field names that are interpolated into SQL.
var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Filter is an equality predicate on a top-level string field.
type Filter struct {
	Field string
	Value string
}

// Eq builds a Filter.
func Eq(field, value string) Filter {
	return Filter{Field: field, Value: value}
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filters    []Filter
	// OrderBy is a top-level field; ties and the empty OrderBy fall back to id.
	OrderBy string
	Desc    bool
	// Limit of zero means no limit.
	Limit int
}

// Where returns a Query on collection with the given filters.
func Where(collection string, filters ...Filter) Query {
	return Query{Collection: collection, Filters: filters}
}

func (q Query) validate() error {
	if q.Collection == "" {
		return fmt.Errorf("query: collection is required")
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("query %s: invalid field name %q", q.Collection, f.Field)
		}
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return fmt.Errorf("query %s: invalid order field %q", q.Collection, q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("query %s: negative limit", q.Collection)
	}
	return nil
}

type docKey struct {
	collection string
	id         string
}

// DecodeAll decodes every document into a T, preserving order.
func DecodeAll[T any](docs []Doc) ([]T, error) {
	out := make([]T, 0, len(docs))
	for i := range docs {
		var v T
		if err := docs[i].Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type deleteField struct{}

// DeleteField, used as an Update value, removes the field from the document.
var DeleteField any = deleteField{}
