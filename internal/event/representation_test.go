package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepresentation(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
		isList   bool
	}{
		{"object prefers name", `{"id":"r1","name":"admins"}`, "admins", false},
		{"array is unwrapped", `[{"id":"r1","name":"admins"}]`, "admins", true},
		{"first element wins", `[{"name":"admins"},{"name":"viewers"}]`, "admins", true},
		{"id fallback", `{"id":"r1"}`, "r1", false},
		{"surrounding whitespace", "  \n{\"name\":\"admins\"}\n", "admins", false},
		{"quoted payload", `"{\"id\":\"r1\",\"name\":\"admins\"}"`, "admins", false},
		{"stray escapes", `{\"id\":\"r1\",\"name\":\"admins\"}`, "admins", false},
		{"escaped array", `[{\"name\":\"admins\"}]`, "admins", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := ParseRepresentation(tt.raw)
			require.NoError(t, err)

			id, ok := rep.ObjectID()
			assert.True(t, ok)
			assert.Equal(t, tt.expected, id)
			assert.Equal(t, tt.isList, rep.IsList())
		})
	}
}

func TestParseRepresentation_ObjectAndArrayAgree(t *testing.T) {
	object, err := ParseRepresentation(`{"id":"r1","name":"admins"}`)
	require.NoError(t, err)
	array, err := ParseRepresentation(`[{"id":"r1","name":"admins"}]`)
	require.NoError(t, err)

	objectID, _ := object.ObjectID()
	arrayID, _ := array.ObjectID()
	assert.Equal(t, objectID, arrayID)
}

func TestParseRepresentation_Errors(t *testing.T) {
	for _, raw := range []string{"", "   ", "admins", "42", `{"name":`, `"just a string"`} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseRepresentation(raw)
			assert.Error(t, err)
		})
	}
}

func TestRepresentation_EmptyArrayHasNoObjectID(t *testing.T) {
	rep, err := ParseRepresentation("[]")
	require.NoError(t, err)

	_, ok := rep.ObjectID()
	assert.False(t, ok)
}
