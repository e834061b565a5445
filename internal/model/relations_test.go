package model

import (
	"context"
	"testing"

	fgaSdk "github.com/openfga/go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRelationIndex_FromModelFile(t *testing.T) {
	model, err := LoadModelFile("../../configs/model.json")
	require.NoError(t, err)

	index := BuildRelationIndex(context.Background(), *model)

	assert.Equal(t, []Entry{
		{RelationKey: RelationKey{ObjectType: "group", SubjectType: "user"}, Relation: "member"},
		{RelationKey: RelationKey{ObjectType: "role", SubjectType: "group"}, Relation: "assignee"},
		{RelationKey: RelationKey{ObjectType: "role", SubjectType: "role"}, Relation: "assignee"},
		{RelationKey: RelationKey{ObjectType: "role", SubjectType: "user"}, Relation: "assignee"},
	}, index.Entries())
}

func TestBuildRelationIndex_DuplicateKeyKeepsLastRelation(t *testing.T) {
	model := fgaSdk.AuthorizationModel{
		TypeDefinitions: []fgaSdk.TypeDefinition{
			typeDef("group", map[string][]string{
				"member": {"user"},
				"owner":  {"user"},
			}),
		},
	}

	for i := 0; i < 10; i++ {
		index := BuildRelationIndex(context.Background(), model)
		assert.Equal(t, "owner", index[RelationKey{ObjectType: "group", SubjectType: "user"}])
	}
}

func TestBuildRelationIndex_IgnoresRelationsWithoutMetadata(t *testing.T) {
	this := make(map[string]interface{})
	relations := map[string]fgaSdk.Userset{"member": {This: &this}}
	model := fgaSdk.AuthorizationModel{
		TypeDefinitions: []fgaSdk.TypeDefinition{
			{Type: "user"},
			{Type: "group", Relations: &relations},
		},
	}

	index := BuildRelationIndex(context.Background(), model)
	assert.Empty(t, index)
}

func TestSnapshot_Lookup(t *testing.T) {
	snapshot := NewSnapshot(context.Background(), testStoreID, *groupModel())

	assert.True(t, snapshot.HasType("group"))
	assert.True(t, snapshot.HasType("user"))
	assert.False(t, snapshot.HasType("role"))

	relation, ok := snapshot.Lookup("group", "user")
	assert.True(t, ok)
	assert.Equal(t, "member", relation)

	_, ok = snapshot.Lookup("group", "role")
	assert.False(t, ok)

	// the composite key cannot collide the way concatenated strings would
	_, ok = snapshot.Lookup("groupu", "ser")
	assert.False(t, ok)
}

func TestLoadModelFile_Errors(t *testing.T) {
	_, err := LoadModelFile("testdata/does-not-exist.json")
	assert.Error(t, err)
}
