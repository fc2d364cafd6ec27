package docstore

import (
	"bytes"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Query-language subset understood by MemoryDriver:
//
//	{field: value}              equality (null also matches a missing field)
//	{field: {$eq|$ne: v}}
//	{field: {$gt|$gte|$lt|$lte: v}}
//	{field: {$in|$nin: [...]}}
//	{field: {$exists: bool}}
//	{$and|$or|$nor: [filter, ...]}
//
// Dotted paths walk embedded documents. A condition on an array field matches
// when any element matches.

func matchesFilter(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range subFilters(cond) {
				if !matchesFilter(doc, sub) {
					return false
				}
			}
		case "$or":
			subs := subFilters(cond)
			matched := false
			for _, sub := range subs {
				if matchesFilter(doc, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "$nor":
			for _, sub := range subFilters(cond) {
				if matchesFilter(doc, sub) {
					return false
				}
			}
		default:
			value, found := lookupPath(doc, key)
			if !matchCondition(value, found, cond) {
				return false
			}
		}
	}
	return true
}

func subFilters(v interface{}) []bson.M {
	items, ok := asArray(v)
	if !ok {
		return nil
	}
	out := make([]bson.M, 0, len(items))
	for _, item := range items {
		if m, ok := asMap(item); ok {
			out = append(out, m)
		}
	}
	return out
}

func matchCondition(value interface{}, found bool, cond interface{}) bool {
	if ops, ok := operatorDocument(cond); ok {
		for op, arg := range ops {
			if !matchOperator(value, found, op, arg) {
				return false
			}
		}
		return true
	}
	return matchEquals(value, found, cond)
}

// operatorDocument returns cond as a map when every key is an operator.
func operatorDocument(cond interface{}) (bson.M, bool) {
	m, ok := asMap(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchOperator(value interface{}, found bool, op string, arg interface{}) bool {
	switch op {
	case "$eq":
		return matchEquals(value, found, arg)
	case "$ne":
		return !matchEquals(value, found, arg)
	case "$gt", "$gte", "$lt", "$lte":
		if !found {
			return false
		}
		return anyElement(value, func(v interface{}) bool {
			c, ok := compareValues(v, arg)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				return c > 0
			case "$gte":
				return c >= 0
			case "$lt":
				return c < 0
			default:
				return c <= 0
			}
		})
	case "$in":
		items, _ := asArray(arg)
		for _, item := range items {
			if matchEquals(value, found, item) {
				return true
			}
		}
		return false
	case "$nin":
		items, _ := asArray(arg)
		for _, item := range items {
			if matchEquals(value, found, item) {
				return false
			}
		}
		return true
	case "$exists":
		want, _ := arg.(bool)
		return want == found
	default:
		return false
	}
}

func matchEquals(value interface{}, found bool, target interface{}) bool {
	if target == nil {
		return !found || value == nil
	}
	if !found {
		return false
	}
	if valuesEqual(value, target) {
		return true
	}
	if _, targetIsArray := asArray(target); !targetIsArray {
		if items, ok := asArray(value); ok {
			for _, item := range items {
				if valuesEqual(item, target) {
					return true
				}
			}
		}
	}
	return false
}

func anyElement(value interface{}, fn func(interface{}) bool) bool {
	if items, ok := asArray(value); ok {
		for _, item := range items {
			if fn(item) {
				return true
			}
		}
		return false
	}
	return fn(value)
}

// lookupPath resolves a dotted path through embedded documents.
func lookupPath(doc bson.M, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath assigns v at a dotted path, creating embedded documents as needed.
func setPath(doc bson.M, path string, v interface{}) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(bson.M)
		if !ok {
			next = bson.M{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = v
}

func asMap(v interface{}) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]interface{}:
		return bson.M(m), true
	case bson.D:
		out := make(bson.M, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch a := v.(type) {
	case primitive.A:
		return a, true
	case []interface{}:
		return a, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case primitive.DateTime:
		return t.Time(), true
	default:
		return time.Time{}, false
	}
}

func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		return ok && ta.Equal(tb)
	}
	if ma, ok := asMap(a); ok {
		mb, ok := asMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !valuesEqual(va, vb) {
				return false
			}
		}
		return true
	}
	if aa, ok := asArray(a); ok {
		ab, ok := asArray(b)
		if !ok || len(aa) != len(ab) {
			return false
		}
		for i := range aa {
			if !valuesEqual(aa[i], ab[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// typeRank follows the server's cross-type comparison order.
func typeRank(v interface{}) int {
	if v == nil {
		return 1
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	switch v.(type) {
	case string:
		return 3
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	}
	if _, ok := toTime(v); ok {
		return 9
	}
	if _, ok := asMap(v); ok {
		return 4
	}
	if _, ok := asArray(v); ok {
		return 5
	}
	return 10
}

// compareValues orders two values of the same type class. ok is false when
// the values are not comparable by $gt/$lt.
func compareValues(a, b interface{}) (int, bool) {
	if typeRank(a) != typeRank(b) {
		return 0, false
	}
	switch typeRank(a) {
	case 1:
		return 0, true
	case 2:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return compareOrdered(fa, fb), true
	case 3:
		return strings.Compare(a.(string), b.(string)), true
	case 7:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(oa[:], ob[:]), true
	case 8:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		default:
			return 1, true
		}
	case 9:
		ta, _ := toTime(a)
		tb, _ := toTime(b)
		return ta.Compare(tb), true
	}
	return 0, false
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// sortLess orders documents by keys; missing values sort lowest.
func sortLess(a, b bson.M, keys bson.D) bool {
	for _, key := range keys {
		dir := 1
		if d, ok := toFloat(key.Value); ok && d < 0 {
			dir = -1
		}

		va, _ := lookupPath(a, key.Key)
		vb, _ := lookupPath(b, key.Key)

		c := sortCompare(va, vb)
		if c != 0 {
			return c*dir < 0
		}
	}
	return false
}

func sortCompare(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareOrdered(float64(ra), float64(rb))
	}
	c, _ := compareValues(a, b)
	return c
}
