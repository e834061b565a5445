package types

import (
	"fmt"
	"strings"
)

// Keycloak admin event resource types handled by the publisher
const (
	ResourceRealmRole        = "REALM_ROLE"
	ResourceRealmRoleMapping = "REALM_ROLE_MAPPING"
	ResourceGroupMembership  = "GROUP_MEMBERSHIP"
)

// Keycloak admin event operation types
const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"
	OperationDelete = "DELETE"
	OperationAction = "ACTION"
)

// AuthDetails identifies who performed an admin operation
type AuthDetails struct {
	RealmID   string `json:"realmId" yaml:"realmId"`
	ClientID  string `json:"clientId" yaml:"clientId"`
	UserID    string `json:"userId" yaml:"userId"`
	IPAddress string `json:"ipAddress" yaml:"ipAddress"`
}

// AdminEvent represents the structure of a Keycloak admin event
type AdminEvent struct {
	ID             string      `json:"id" yaml:"id"`
	Time           int64       `json:"time" yaml:"time"`
	RealmID        string      `json:"realmId" yaml:"realmId"`
	AuthDetails    AuthDetails `json:"authDetails" yaml:"authDetails"`
	OperationType  string      `json:"operationType" yaml:"operationType"`
	ResourceType   string      `json:"resourceType" yaml:"resourceType"`
	ResourcePath   string      `json:"resourcePath" yaml:"resourcePath"`
	Representation string      `json:"representation,omitempty" yaml:"representation"`
	Error          string      `json:"error,omitempty" yaml:"error"`
}

// Realm returns the realm the event belongs to, falling back to the acting user's realm
func (e *AdminEvent) Realm() string {
	if e.RealmID != "" {
		return e.RealmID
	}
	return e.AuthDetails.RealmID
}

func (e *AdminEvent) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "AdminEvent resourceType=%s, operationType=%s, realmId=%s, clientId=%s, userId=%s, ipAddress=%s, resourcePath=%s",
		e.ResourceType,
		e.OperationType,
		e.AuthDetails.RealmID,
		e.AuthDetails.ClientID,
		e.AuthDetails.UserID,
		e.AuthDetails.IPAddress,
		e.ResourcePath,
	)
	if e.Error != "" {
		fmt.Fprintf(&sb, ", error=%s", e.Error)
	}
	return sb.String()
}

// UserEvent is a non-administrative Keycloak event (login, logout, ...)
type UserEvent struct {
	ID       string            `json:"id"`
	Time     int64             `json:"time"`
	Type     string            `json:"type"`
	RealmID  string            `json:"realmId"`
	ClientID string            `json:"clientId"`
	UserID   string            `json:"userId"`
	Details  map[string]string `json:"details,omitempty"`
}

// ObjectType is the authorization model type an admin event changes
type ObjectType string

const (
	ObjectRole  ObjectType = "role"
	ObjectGroup ObjectType = "group"
)

// SubjectType is the authorization model type that gains or loses the relation
type SubjectType string

const (
	SubjectUser  SubjectType = "user"
	SubjectGroup SubjectType = "group"
	SubjectRole  SubjectType = "role"
)

// OperationKind tells whether a tuple is written or deleted
type OperationKind int

const (
	KindWrite OperationKind = iota + 1
	KindDelete
)

func (k OperationKind) String() string {
	switch k {
	case KindWrite:
		return "WRITE"
	case KindDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ChangeEvent is an admin event resolved into the parts of one tuple
type ChangeEvent struct {
	EventID     string
	ObjectType  ObjectType
	ObjectID    string
	SubjectType SubjectType
	SubjectID   string
	Operation   OperationKind
}

// Subject returns the "type:id" reference of the subject
func (c *ChangeEvent) Subject() string {
	return string(c.SubjectType) + ":" + c.SubjectID
}

// Object returns the "type:id" reference of the object
func (c *ChangeEvent) Object() string {
	return string(c.ObjectType) + ":" + c.ObjectID
}

func (c *ChangeEvent) String() string {
	return fmt.Sprintf("%s %s -> %s", c.Operation, c.Subject(), c.Object())
}

// TupleKey represents a single relationship tuple
type TupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

func (t TupleKey) String() string {
	return t.User + " " + t.Relation + " " + t.Object
}

// TupleBatch holds the tuples to write and delete in a single store call
type TupleBatch struct {
	Writes  []TupleKey `json:"writes,omitempty"`
	Deletes []TupleKey `json:"deletes,omitempty"`
}

// Available reports whether the batch is worth sending
func (b TupleBatch) Available() bool {
	return len(b.Writes) > 0 || len(b.Deletes) > 0
}

// Size returns the number of operations in the batch
func (b TupleBatch) Size() int {
	return len(b.Writes) + len(b.Deletes)
}

// OutcomeStatus classifies what happened to one admin event
type OutcomeStatus int

const (
	// StatusTranslated means a tuple batch was built (and sent unless in dry-run)
	StatusTranslated OutcomeStatus = iota + 1
	// StatusSkipped means the event is expected to have no tuple counterpart
	StatusSkipped
	// StatusFailed means the event content could not be resolved; it is dropped
	StatusFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case StatusTranslated:
		return "translated"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON responses
func (s OutcomeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the result of handling one admin event. Fatal errors are
// returned separately and never appear here.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Batch  TupleBatch    `json:"batch"`
	Reason string        `json:"reason,omitempty"`
	Err    error         `json:"-"`
}

// Translated builds an outcome carrying batch
func Translated(batch TupleBatch) Outcome {
	return Outcome{Status: StatusTranslated, Batch: batch}
}

// Skipped builds an outcome for an expected, non-fatal skip
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

// Failed builds an outcome for a dropped event
func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Reason: err.Error(), Err: err}
}
