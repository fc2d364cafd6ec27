package docstore

import (
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ToMap returns the document as JSON-ready values: ObjectIDs become hex
// strings and datetimes become RFC 3339 UTC strings, at any depth. "_id" is
// included once the document has an ID.
func (d *Document) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = plainValue(v)
	}
	if !d.id.IsZero() {
		out[FieldID] = d.id.Hex()
	}
	return out
}

// plainValue converts BSON values to their JSON-friendly form.
func plainValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case primitive.ObjectID:
		return val.Hex()
	case *primitive.ObjectID:
		if val == nil {
			return nil
		}
		return val.Hex()
	case time.Time:
		return formatTime(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return formatTime(*val)
	case primitive.DateTime:
		return formatTime(val.Time())
	case primitive.Decimal128:
		return val.String()
	case primitive.Timestamp:
		return formatTime(time.Unix(int64(val.T), 0))
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case bson.M:
		return plainMap(val)
	case map[string]interface{}:
		return plainMap(val)
	case primitive.A:
		return plainSlice(val)
	case []interface{}:
		return plainSlice(val)
	case []byte:
		return val
	case string, bool, int, int32, int64, float32, float64:
		return val
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = plainValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = plainValue(iter.Value().Interface())
		}
		return out
	}
	return v
}

func plainMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = plainValue(v)
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
