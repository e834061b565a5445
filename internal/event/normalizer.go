package event

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
	errs "github.com/embesozzi/keycloak-openfga-event-publisher/pkg/errors"
)

// Resource collections found in the first segment of an admin event resource path
const (
	ResourceUsers     = "users"
	ResourceGroups    = "groups"
	ResourceRolesByID = "roles-by-id"
)

var (
	// ErrUnsupportedResourceType is returned for resource types with no tuple counterpart
	ErrUnsupportedResourceType = errors.New("unsupported resource type")
	// ErrUnsupportedSubjectPath is returned when the resource path does not name a user, group or role
	ErrUnsupportedSubjectPath = errors.New("unsupported subject path")
	// ErrSubjectResolutionFailed is returned when a role id cannot be translated to its name
	ErrSubjectResolutionFailed = errors.New("subject resolution failed")
	// ErrMalformedRepresentation is returned when no object id can be read from the payload
	ErrMalformedRepresentation = errors.New("malformed representation")
	// ErrOperationIgnored is returned for operations other than CREATE and DELETE.
	// It is not a failure: the event simply has nothing to translate.
	ErrOperationIgnored = errors.New("operation ignored")

	// ErrRoleNotFound is returned by a RoleResolver when the role does not exist
	ErrRoleNotFound = errors.New("role not found")
)

// RoleResolver translates a role id into the role name used in tuples
type RoleResolver interface {
	ResolveRoleName(ctx context.Context, realm, roleID string) (string, error)
}

// Normalizer turns raw admin events into ChangeEvents
type Normalizer struct {
	resolver RoleResolver
}

// NewNormalizer creates a normalizer that resolves role subjects through resolver
func NewNormalizer(resolver RoleResolver) *Normalizer {
	return &Normalizer{resolver: resolver}
}

// Normalize resolves every part of the tuple carried by ev. The returned
// ChangeEvent is either complete or nil.
func (n *Normalizer) Normalize(ctx context.Context, ev *types.AdminEvent) (*types.ChangeEvent, error) {
	objectType, err := ObjectTypeOf(ev.ResourceType)
	if err != nil {
		return nil, err
	}

	segments := strings.Split(strings.TrimPrefix(ev.ResourcePath, "/"), "/")
	subjectType, err := SubjectTypeOf(segments[0])
	if err != nil {
		return nil, err
	}
	if len(segments) < 2 || segments[1] == "" {
		return nil, errs.NewSkip(fmt.Sprintf("resource path %q has no subject id", ev.ResourcePath), ErrUnsupportedSubjectPath)
	}

	operation, err := OperationKindOf(ev.OperationType)
	if err != nil {
		return nil, err
	}

	subjectID := segments[1]
	if subjectType == types.SubjectRole {
		subjectID, err = n.resolveRoleName(ctx, ev.Realm(), subjectID)
		if err != nil {
			return nil, err
		}
	}

	rep, err := ParseRepresentation(ev.Representation)
	if err != nil {
		return nil, errs.NewValidation(fmt.Sprintf("event %s representation cannot be parsed", ev.ID), ErrMalformedRepresentation, err)
	}
	objectID, ok := rep.ObjectID()
	if !ok {
		return nil, errs.NewValidation(fmt.Sprintf("event %s representation has neither name nor id", ev.ID), ErrMalformedRepresentation)
	}

	return &types.ChangeEvent{
		EventID:     ev.ID,
		ObjectType:  objectType,
		ObjectID:    objectID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Operation:   operation,
	}, nil
}

func (n *Normalizer) resolveRoleName(ctx context.Context, realm, roleID string) (string, error) {
	if n.resolver == nil {
		return "", errs.NewValidation(fmt.Sprintf("no role resolver configured for role %s", roleID), ErrSubjectResolutionFailed)
	}

	name, err := n.resolver.ResolveRoleName(ctx, realm, roleID)
	switch {
	case errors.Is(err, ErrRoleNotFound):
		return "", errs.NewValidation(fmt.Sprintf("role %s not found in realm %s", roleID, realm), ErrSubjectResolutionFailed, err)
	case err != nil:
		return "", errs.NewServiceUnavailable(fmt.Sprintf("failed to resolve role %s", roleID), err)
	case name == "":
		return "", errs.NewValidation(fmt.Sprintf("role %s has no name", roleID), ErrSubjectResolutionFailed)
	}

	return name, nil
}

// ObjectTypeOf maps a Keycloak resource type to the object type it changes
func ObjectTypeOf(resourceType string) (types.ObjectType, error) {
	switch resourceType {
	case types.ResourceRealmRole, types.ResourceRealmRoleMapping:
		return types.ObjectRole, nil
	case types.ResourceGroupMembership:
		return types.ObjectGroup, nil
	default:
		return "", errs.NewSkip(fmt.Sprintf("resource type %q is not handled", resourceType), ErrUnsupportedResourceType)
	}
}

// SubjectTypeOf maps the resource collection of a path to the subject type
func SubjectTypeOf(collection string) (types.SubjectType, error) {
	switch collection {
	case ResourceUsers:
		return types.SubjectUser, nil
	case ResourceGroups:
		return types.SubjectGroup, nil
	case ResourceRolesByID:
		return types.SubjectRole, nil
	default:
		return "", errs.NewSkip(fmt.Sprintf("resource collection %q is not handled", collection), ErrUnsupportedSubjectPath)
	}
}

// OperationKindOf maps an admin operation to a tuple operation
func OperationKindOf(operationType string) (types.OperationKind, error) {
	switch operationType {
	case types.OperationCreate:
		return types.KindWrite, nil
	case types.OperationDelete:
		return types.KindDelete, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrOperationIgnored, operationType)
	}
}
