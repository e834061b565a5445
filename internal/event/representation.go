package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errEmptyRepresentation = errors.New("representation is empty")

// entity is the part of a Keycloak resource representation the publisher reads
type entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Representation is the payload attached to an admin event. Keycloak sends a
// single resource for role and group operations and a list of resources for
// role mappings, so exactly one of single or list is populated after decoding.
type Representation struct {
	single *entity
	list   []entity
}

// UnmarshalJSON decodes either a JSON object or a JSON array of objects
func (r *Representation) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errEmptyRepresentation
	}

	switch trimmed[0] {
	case '{':
		var e entity
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return err
		}
		r.single, r.list = &e, nil
	case '[':
		var list []entity
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		r.single, r.list = nil, list
	default:
		return fmt.Errorf("representation must be an object or an array, found %q", trimmed[0])
	}

	return nil
}

// IsList reports whether the payload was an array
func (r Representation) IsList() bool {
	return r.single == nil
}

func (r Representation) primary() (entity, bool) {
	if r.single != nil {
		return *r.single, true
	}
	if len(r.list) > 0 {
		return r.list[0], true
	}
	return entity{}, false
}

// ObjectID returns the name of the primary resource, or its id when it has no name
func (r Representation) ObjectID() (string, bool) {
	e, ok := r.primary()
	if !ok {
		return "", false
	}
	if e.Name != "" {
		return e.Name, true
	}
	if e.ID != "" {
		return e.ID, true
	}
	return "", false
}

// ParseRepresentation decodes the raw representation string of an admin event.
// Some event sources forward the payload as a quoted JSON string or with
// escaped quotes left in place; both are unwrapped before decoding.
func ParseRepresentation(raw string) (Representation, error) {
	var rep Representation

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return rep, errEmptyRepresentation
	}

	if strings.HasPrefix(raw, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(raw), &unquoted); err == nil {
			raw = strings.TrimSpace(unquoted)
		}
	}

	err := json.Unmarshal([]byte(raw), &rep)
	if err != nil && strings.Contains(raw, `\`) {
		err = json.Unmarshal([]byte(strings.ReplaceAll(raw, `\`, "")), &rep)
	}
	if err != nil {
		return Representation{}, err
	}

	return rep, nil
}
