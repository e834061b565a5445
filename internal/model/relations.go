package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	fgaSdk "github.com/openfga/go-sdk"
)

// RelationKey identifies which relation links a subject type to an object type
type RelationKey struct {
	ObjectType  string
	SubjectType string
}

// RelationIndex maps (object type, subject type) to the relation name that
// holds subjects of that type directly
type RelationIndex map[RelationKey]string

// Entry is one row of a RelationIndex
type Entry struct {
	RelationKey
	Relation string
}

// BuildRelationIndex derives the relation index from the directly related user
// types declared in the model metadata. The model is expected to declare at
// most one relation per (object type, subject type); when it declares more, the
// relation with the greatest name wins and the collision is logged.
func BuildRelationIndex(ctx context.Context, model fgaSdk.AuthorizationModel) RelationIndex {
	index := make(RelationIndex)

	for _, typeDef := range model.TypeDefinitions {
		if typeDef.Relations == nil || typeDef.Metadata == nil || typeDef.Metadata.Relations == nil {
			continue
		}
		metadata := *typeDef.Metadata.Relations

		names := make([]string, 0, len(*typeDef.Relations))
		for name := range *typeDef.Relations {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, relation := range names {
			relationMetadata, ok := metadata[relation]
			if !ok || relationMetadata.DirectlyRelatedUserTypes == nil {
				continue
			}
			for _, ref := range *relationMetadata.DirectlyRelatedUserTypes {
				key := RelationKey{ObjectType: typeDef.Type, SubjectType: ref.Type}
				if previous, exists := index[key]; exists && previous != relation {
					slog.WarnContext(ctx, "authorization model declares several relations for the same subject type",
						"object_type", key.ObjectType,
						"subject_type", key.SubjectType,
						"replaced", previous,
						"relation", relation,
					)
				}
				index[key] = relation
			}
		}
	}

	slog.DebugContext(ctx, "relation index built", "entries", len(index))

	return index
}

// Entries returns the index rows sorted by object type then subject type
func (ri RelationIndex) Entries() []Entry {
	entries := make([]Entry, 0, len(ri))
	for key, relation := range ri {
		entries = append(entries, Entry{RelationKey: key, Relation: relation})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ObjectType != entries[j].ObjectType {
			return entries[i].ObjectType < entries[j].ObjectType
		}
		return entries[i].SubjectType < entries[j].SubjectType
	})
	return entries
}

// LoadModelFile reads an authorization model in the OpenFGA JSON format
func LoadModelFile(path string) (*fgaSdk.AuthorizationModel, error) {
	filename, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var model fgaSdk.AuthorizationModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %w", path, err)
	}
	if len(model.TypeDefinitions) == 0 {
		return nil, fmt.Errorf("model file %s has no type definitions", path)
	}

	return &model, nil
}
