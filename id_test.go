package docstore

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewChangeID(t *testing.T) {
	id1 := NewChangeID()
	time.Sleep(1 * time.Millisecond)
	id2 := NewChangeID()

	if id1 == id2 {
		t.Error("NewChangeID() generated duplicate IDs")
	}

	// UUIDv7 should be lexicographically sortable by time
	if id1 > id2 {
		t.Error("UUIDv7 not time-ordered: id1 should be < id2")
	}

	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("uuid.Parse failed: %v", err)
	}
	if parsed.Version() != 7 {
		t.Errorf("Expected UUIDv7, got version %d", parsed.Version())
	}
}

func TestStrToObjectID(t *testing.T) {
	id := GenerateID()

	parsed, err := StrToObjectID(id.Hex())
	if err != nil {
		t.Fatalf("StrToObjectID failed: %v", err)
	}
	if parsed != id {
		t.Errorf("Parsed ID doesn't match: %s != %s", parsed.Hex(), id.Hex())
	}

	if ObjectIDToStr(parsed) != id.Hex() {
		t.Errorf("ObjectIDToStr = %q, want %q", ObjectIDToStr(parsed), id.Hex())
	}
}

func TestStrToObjectID_Malformed(t *testing.T) {
	for _, s := range []string{"", "invalid", "123", "zzzzzzzzzzzzzzzzzzzzzzzz"} {
		_, err := StrToObjectID(s)
		if err == nil {
			t.Errorf("StrToObjectID(%q) expected error", s)
			continue
		}

		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("StrToObjectID(%q) error type = %T, want *ValidationError", s, err)
			continue
		}
		if _, ok := verr.Fields["_id"]; !ok {
			t.Errorf("StrToObjectID(%q) fields = %v, want _id entry", s, verr.Fields)
		}
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("StrToObjectID(%q) should wrap ErrInvalidID", s)
		}
		if IsRetryable(err) {
			t.Errorf("StrToObjectID(%q) error must not be retryable", s)
		}
	}
}

func TestToObjectID(t *testing.T) {
	id := GenerateID()

	testCases := []struct {
		name    string
		input   interface{}
		wantErr bool
	}{
		{"object id", id, false},
		{"pointer", &id, false},
		{"hex string", id.Hex(), false},
		{"nil pointer", (*primitive.ObjectID)(nil), true},
		{"bad string", "nope", true},
		{"int", 42, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToObjectID(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ToObjectID(%v) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if !tc.wantErr && got != id {
				t.Errorf("ToObjectID(%v) = %s, want %s", tc.input, got.Hex(), id.Hex())
			}
		})
	}
}

func TestIsValidID(t *testing.T) {
	testCases := []struct {
		id    string
		valid bool
	}{
		{GenerateID().Hex(), true},
		{"invalid", false},
		{"", false},
		{"123", false},
		{"000000000000000000000000", true},
	}

	for _, tc := range testCases {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func BenchmarkNewChangeID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewChangeID()
	}
}
