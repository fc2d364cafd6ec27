package docstore

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind is the value type a schema field accepts.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindNumber // int or float
	KindBool
	KindTime
	KindObjectID // ObjectID or its 24 character hex form
	KindMap
	KindSlice
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindObjectID:
		return "objectid"
	case KindMap:
		return "map"
	case KindSlice:
		return "slice"
	default:
		return "any"
	}
}

// Field declares one document field.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	Nullable bool
	// Rule is a go-playground/validator tag checked after the kind,
	// e.g. "email" or "min=1,max=200".
	Rule string
}

// Schema is the declared shape of a model's documents.
type Schema struct {
	Fields []Field
}

// NewSchema builds a Schema from fields.
func NewSchema(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

var fieldValidator = validator.New()

// Validate checks doc against every declared field and returns all
// violations at once. Undeclared fields are allowed.
func (s *Schema) Validate(doc bson.M) error {
	if s == nil {
		return nil
	}

	violations := make(map[string]string)
	for _, f := range s.Fields {
		if msg := f.check(doc); msg != "" {
			violations[f.Name] = msg
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Fields: violations}
}

func (f Field) check(doc bson.M) string {
	value, present := lookupPath(doc, f.Name)
	if !present {
		if f.Required {
			return "is required"
		}
		return ""
	}
	if value == nil {
		if f.Nullable {
			return ""
		}
		return "must not be null"
	}
	if !f.Kind.accepts(value) {
		return fmt.Sprintf("must be of type %s, got %T", f.Kind, value)
	}
	if f.Rule != "" {
		if err := fieldValidator.Var(value, f.Rule); err != nil {
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
				return fmt.Sprintf("failed rule %q", fieldErrs[0].Tag())
			}
			return err.Error()
		}
	}
	return ""
}

func (k Kind) accepts(v interface{}) bool {
	switch k {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		return isInteger(v)
	case KindFloat:
		switch v.(type) {
		case float32, float64:
			return true
		}
		return false
	case KindNumber:
		_, ok := toFloat(v)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindTime:
		_, ok := toTime(v)
		return ok
	case KindObjectID:
		switch id := v.(type) {
		case primitive.ObjectID:
			return true
		case string:
			return primitive.IsValidObjectID(id)
		}
		return false
	case KindMap:
		_, ok := asMap(v)
		return ok
	case KindSlice:
		_, ok := asArray(v)
		return ok
	}
	return false
}

func isInteger(v interface{}) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		_, isDuration := v.(time.Duration)
		return !isDuration
	}
	return false
}
