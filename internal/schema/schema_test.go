package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_Defaults(t *testing.T) {
	reg, err := NewRegistry(Source{
		Name:   "article",
		Fields: []Field{{Name: "id"}, {Name: "title"}},
	})
	require.NoError(t, err)

	src, ok := reg.Source("article")
	require.True(t, ok)
	assert.Equal(t, "articles", src.Table, "table should default to the pluralized name")
	assert.Equal(t, "id", src.IDColumn)

	f, ok := src.Field("title")
	require.True(t, ok)
	assert.Equal(t, "title", f.Column, "column should default to the field name")
}

func TestNewRegistry_Errors(t *testing.T) {
	tests := []struct {
		name    string
		sources []Source
		wantErr string
	}{
		{
			name:    "missing source name",
			sources: []Source{{Name: "  "}},
			wantErr: "has no name",
		},
		{
			name: "duplicate source",
			sources: []Source{
				{Name: "article"},
				{Name: "article"},
			},
			wantErr: "duplicate source",
		},
		{
			name: "duplicate field",
			sources: []Source{
				{Name: "article", Fields: []Field{{Name: "id"}, {Name: "id"}}},
			},
			wantErr: "duplicate field",
		},
		{
			name: "bad cardinality",
			sources: []Source{
				{Name: "article", Relations: []Relation{{Name: "author", Target: "article", Cardinality: "lots"}}},
			},
			wantErr: "cardinality",
		},
		{
			name: "unknown relation target",
			sources: []Source{
				{Name: "article", Relations: []Relation{{Name: "author", Target: "user", Cardinality: One}}},
			},
			wantErr: "unknown source",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.sources...)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSource_Sensitive(t *testing.T) {
	reg, err := NewRegistry(Source{
		Name: "user",
		Fields: []Field{
			{Name: "id"},
			{Name: "email", Sensitive: true},
			{Name: "password_hash", Sensitive: true},
		},
	})
	require.NoError(t, err)

	src, _ := reg.Source("user")
	assert.True(t, src.IsSensitive("email"))
	assert.False(t, src.IsSensitive("id"))
	assert.False(t, src.IsSensitive("unregistered"))
	assert.ElementsMatch(t, []string{"email", "password_hash"}, src.SensitiveFields())
}

func TestRelation_IsJunction(t *testing.T) {
	assert.False(t, Relation{RemoteColumn: "post_id"}.IsJunction())
	assert.True(t, Relation{JunctionTable: "post_tags"}.IsJunction())
}

func TestIsRestrictedStatus(t *testing.T) {
	assert.True(t, IsRestrictedStatus("draft"))
	assert.True(t, IsRestrictedStatus("Private"))
	assert.True(t, IsRestrictedStatus("TRASH"))
	assert.False(t, IsRestrictedStatus("published"))
	assert.False(t, IsRestrictedStatus(7))
	assert.False(t, IsRestrictedStatus(nil))
}

func TestDefault(t *testing.T) {
	reg := Default()

	post, ok := reg.Source("post")
	require.True(t, ok)
	assert.Equal(t, "posts", post.Table)
	assert.Equal(t, "status", post.StatusColumn)

	tags, ok := post.Relation("tags")
	require.True(t, ok)
	assert.True(t, tags.IsJunction())
	assert.Equal(t, Many, tags.Cardinality)

	author, ok := post.Relation("author")
	require.True(t, ok)
	assert.Equal(t, One, author.Cardinality)
	assert.Equal(t, "author_id", author.LocalColumn)

	user, ok := reg.Source("user")
	require.True(t, ok)
	assert.True(t, user.IsSensitive("email"))

	// Every relation target in the default schema must resolve.
	for _, name := range reg.Names() {
		src, _ := reg.Source(name)
		for _, rel := range src.Relations {
			_, ok := reg.Source(rel.Target)
			assert.True(t, ok, "source %s relation %s targets unknown %s", name, rel.Name, rel.Target)
		}
	}
}
