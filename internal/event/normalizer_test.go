package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
	errs "github.com/embesozzi/keycloak-openfga-event-publisher/pkg/errors"
)

type stubResolver struct {
	names map[string]string
	err   error
	calls int
}

func (s *stubResolver) ResolveRoleName(_ context.Context, _, roleID string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	name, ok := s.names[roleID]
	if !ok {
		return "", ErrRoleNotFound
	}
	return name, nil
}

func adminEvent(resourceType, operation, path, representation string) *types.AdminEvent {
	return &types.AdminEvent{
		ID:             "evt-1",
		RealmID:        "acme",
		OperationType:  operation,
		ResourceType:   resourceType,
		ResourcePath:   path,
		Representation: representation,
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	resolver := &stubResolver{names: map[string]string{"abc123": "editor"}}
	normalizer := NewNormalizer(resolver)

	tests := []struct {
		name     string
		event    *types.AdminEvent
		expected types.ChangeEvent
	}{
		{
			name:  "user joins group",
			event: adminEvent("GROUP_MEMBERSHIP", "CREATE", "users/u1/groups/g1", `{"id":"g1","name":"admins","path":"/admins"}`),
			expected: types.ChangeEvent{
				EventID: "evt-1", ObjectType: types.ObjectGroup, ObjectID: "admins",
				SubjectType: types.SubjectUser, SubjectID: "u1", Operation: types.KindWrite,
			},
		},
		{
			name:  "user realm role mapping removed",
			event: adminEvent("REALM_ROLE_MAPPING", "DELETE", "users/u1/role-mappings/realm", `[{"id":"r1","name":"admins"}]`),
			expected: types.ChangeEvent{
				EventID: "evt-1", ObjectType: types.ObjectRole, ObjectID: "admins",
				SubjectType: types.SubjectUser, SubjectID: "u1", Operation: types.KindDelete,
			},
		},
		{
			name:  "group realm role mapping",
			event: adminEvent("REALM_ROLE_MAPPING", "CREATE", "groups/g1/role-mappings/realm", `[{"id":"r1","name":"viewer"}]`),
			expected: types.ChangeEvent{
				EventID: "evt-1", ObjectType: types.ObjectRole, ObjectID: "viewer",
				SubjectType: types.SubjectGroup, SubjectID: "g1", Operation: types.KindWrite,
			},
		},
		{
			name:  "composite role resolves the parent role name",
			event: adminEvent("REALM_ROLE", "CREATE", "roles-by-id/abc123/composites", `[{"id":"r9","name":"reader"}]`),
			expected: types.ChangeEvent{
				EventID: "evt-1", ObjectType: types.ObjectRole, ObjectID: "reader",
				SubjectType: types.SubjectRole, SubjectID: "editor", Operation: types.KindWrite,
			},
		},
		{
			name:  "id used when name is missing",
			event: adminEvent("GROUP_MEMBERSHIP", "CREATE", "users/u1/groups/g1", `{"id":"g1"}`),
			expected: types.ChangeEvent{
				EventID: "evt-1", ObjectType: types.ObjectGroup, ObjectID: "g1",
				SubjectType: types.SubjectUser, SubjectID: "u1", Operation: types.KindWrite,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := normalizer.Normalize(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *ce)
		})
	}
}

func TestNormalizer_UnsupportedResourceType(t *testing.T) {
	resolver := &stubResolver{}
	normalizer := NewNormalizer(resolver)

	for _, resourceType := range []string{"USER", "GROUP", "CLIENT", "REALM", "CLIENT_ROLE_MAPPING", ""} {
		t.Run(resourceType, func(t *testing.T) {
			ce, err := normalizer.Normalize(context.Background(),
				adminEvent(resourceType, "CREATE", "users/u1/groups/g1", `{"name":"admins"}`))

			assert.Nil(t, ce)
			assert.ErrorIs(t, err, ErrUnsupportedResourceType)
			assert.True(t, errs.IsSkip(err))
		})
	}
	assert.Zero(t, resolver.calls)
}

func TestNormalizer_UnsupportedSubjectPath(t *testing.T) {
	normalizer := NewNormalizer(&stubResolver{})

	for _, path := range []string{"clients/c1/roles", "users", "users/", ""} {
		t.Run(path, func(t *testing.T) {
			_, err := normalizer.Normalize(context.Background(),
				adminEvent("GROUP_MEMBERSHIP", "CREATE", path, `{"name":"admins"}`))

			assert.ErrorIs(t, err, ErrUnsupportedSubjectPath)
			assert.True(t, errs.IsSkip(err))
		})
	}
}

func TestNormalizer_IgnoredOperations(t *testing.T) {
	resolver := &stubResolver{names: map[string]string{"abc123": "editor"}}
	normalizer := NewNormalizer(resolver)

	for _, op := range []string{"UPDATE", "ACTION"} {
		t.Run(op, func(t *testing.T) {
			ce, err := normalizer.Normalize(context.Background(),
				adminEvent("REALM_ROLE", op, "roles-by-id/abc123/composites", `[{"name":"reader"}]`))

			assert.Nil(t, ce)
			assert.ErrorIs(t, err, ErrOperationIgnored)
			assert.False(t, errs.IsSkip(err))
			assert.False(t, errs.IsValidation(err))
		})
	}
	assert.Zero(t, resolver.calls, "ignored operations must not reach the identity store")
}

func TestNormalizer_RoleResolution(t *testing.T) {
	t.Run("not found is a validation failure", func(t *testing.T) {
		normalizer := NewNormalizer(&stubResolver{names: map[string]string{}})

		_, err := normalizer.Normalize(context.Background(),
			adminEvent("REALM_ROLE", "CREATE", "roles-by-id/abc123/composites", `[{"name":"reader"}]`))

		assert.ErrorIs(t, err, ErrSubjectResolutionFailed)
		assert.True(t, errs.IsValidation(err))
	})

	t.Run("transport error is not swallowed", func(t *testing.T) {
		normalizer := NewNormalizer(&stubResolver{err: errors.New("connection refused")})

		_, err := normalizer.Normalize(context.Background(),
			adminEvent("REALM_ROLE", "CREATE", "roles-by-id/abc123/composites", `[{"name":"reader"}]`))

		require.Error(t, err)
		var unavailable errs.ServiceUnavailable
		assert.ErrorAs(t, err, &unavailable)
		assert.False(t, errs.IsValidation(err))
	})

	t.Run("missing resolver", func(t *testing.T) {
		normalizer := NewNormalizer(nil)

		_, err := normalizer.Normalize(context.Background(),
			adminEvent("REALM_ROLE", "CREATE", "roles-by-id/abc123/composites", `[{"name":"reader"}]`))

		assert.ErrorIs(t, err, ErrSubjectResolutionFailed)
	})
}

func TestNormalizer_MalformedRepresentation(t *testing.T) {
	normalizer := NewNormalizer(&stubResolver{})

	for name, representation := range map[string]string{
		"empty":       "",
		"not json":    "admins",
		"empty array": "[]",
		"no name":     `{"path":"/admins"}`,
		"scalar":      "42",
	} {
		t.Run(name, func(t *testing.T) {
			ce, err := normalizer.Normalize(context.Background(),
				adminEvent("GROUP_MEMBERSHIP", "CREATE", "users/u1/groups/g1", representation))

			assert.Nil(t, ce)
			assert.ErrorIs(t, err, ErrMalformedRepresentation)
			assert.True(t, errs.IsValidation(err))
		})
	}
}
