package docstore

import (
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GenerateID returns a new ObjectID.
func GenerateID() primitive.ObjectID {
	return primitive.NewObjectID()
}

// StrToObjectID parses the 24 character hex form of an ObjectID.
// Malformed input fails with a *ValidationError wrapping ErrInvalidID.
func StrToObjectID(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, &ValidationError{
			Fields: map[string]string{"_id": fmt.Sprintf("%q is not a valid ObjectId", s)},
			Cause:  ErrInvalidID,
		}
	}
	return id, nil
}

// ObjectIDToStr returns the hex form of id.
func ObjectIDToStr(id primitive.ObjectID) string {
	return id.Hex()
}

// ToObjectID accepts an ObjectID, a pointer to one, or its hex string.
func ToObjectID(v interface{}) (primitive.ObjectID, error) {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id, nil
	case *primitive.ObjectID:
		if id == nil {
			return primitive.NilObjectID, &ValidationError{
				Fields: map[string]string{"_id": "id is nil"},
				Cause:  ErrInvalidID,
			}
		}
		return *id, nil
	case string:
		return StrToObjectID(id)
	default:
		return primitive.NilObjectID, &ValidationError{
			Fields: map[string]string{"_id": fmt.Sprintf("unsupported id type %T", v)},
			Cause:  ErrInvalidID,
		}
	}
}

// IsValidID checks if a string is a valid ObjectID hex string
func IsValidID(s string) bool {
	return primitive.IsValidObjectID(s)
}

// NewChangeID generates a UUIDv7 (time-ordered) identifier for history entries.
func NewChangeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fall back to UUIDv4 if NewV7 fails (extremely rare)
		id = uuid.New()
	}
	return id.String()
}
