// ABOUTME: Tests for topic selection matching and parsing
// ABOUTME: Exercises the four-way distinction between all, none, empty and named topics

package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-console/internal/message"
)

func fixtures() []message.Message {
	return []message.Message{
		{ID: "null", Scope: nil},
		{ID: "empty", Scope: message.StringPtr("")},
		{ID: "billing", Scope: message.StringPtr("billing")},
	}
}

func TestSelection_FourWayFilter(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selection
		visible []string
	}{
		{"all", All(), []string{"null", "empty", "billing"}},
		{"no topic", NoTopic(), []string{"null"}},
		{"empty topic", Named(""), []string{"empty"}},
		{"billing", Named("billing"), []string{"billing"}},
		{"other", Named("other"), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sel.Filter(fixtures())
			ids := make([]string, 0, len(got))
			for _, m := range got {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.visible, ids)
		})
	}
}

func TestSelection_ZeroValueIsAll(t *testing.T) {
	var sel Selection
	assert.True(t, sel.IsAll())
	assert.Len(t, sel.Filter(fixtures()), 3)
}

func TestSelection_EmptyIsNotNoTopic(t *testing.T) {
	assert.NotEqual(t, NoTopic(), Named(""))
	assert.Equal(t, KindEmptyTopic, Named("").Kind())
	assert.False(t, Named("").Matches(nil))
	assert.False(t, NoTopic().Matches(message.StringPtr("")))
}

func TestSelection_ScopeForSend(t *testing.T) {
	assert.Nil(t, All().ScopeForSend())
	assert.Nil(t, NoTopic().ScopeForSend())

	empty := Named("").ScopeForSend()
	if assert.NotNil(t, empty) {
		assert.Equal(t, "", *empty)
	}

	named := Named("billing").ScopeForSend()
	if assert.NotNil(t, named) {
		assert.Equal(t, "billing", *named)
	}
}

func TestFromScope(t *testing.T) {
	assert.Equal(t, NoTopic(), FromScope(nil))
	assert.Equal(t, Named(""), FromScope(message.StringPtr("")))
	assert.Equal(t, Named("x"), FromScope(message.StringPtr("x")))
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Selection
	}{
		{"*", All()},
		{"all", All()},
		{"ALL", All()},
		{"none", NoTopic()},
		{"-", NoTopic()},
		{`""`, Named("")},
		{`"all"`, Named("all")},
		{"billing", Named("billing")},
		{"  billing  ", Named("billing")},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}

func TestSelection_String(t *testing.T) {
	assert.Equal(t, "all", All().String())
	assert.Equal(t, "none", NoTopic().String())
	assert.Equal(t, `""`, Named("").String())
	assert.Equal(t, "billing", Named("billing").String())
}
