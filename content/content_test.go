package content_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/content"
	"github.com/xraph/entitle/tags"
)

func ids(items []content.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func catalog() []content.Item {
	return []content.Item{
		{ID: "c1", Tag: "Math-Course", IsCollection: true},
		{ID: "c1-sub", Tag: "", IsCollection: true, Parents: []string{"c1"}},
		{ID: "v1", Tag: "unrelated", Parents: []string{"c1"}},
		{ID: "v2", Tag: "", Parents: []string{"c1-sub"}},
		{ID: "v3", Tag: "math-extra"},
		{ID: "v4", Tag: "history"},
	}
}

func TestClosureCoversDescendants(t *testing.T) {
	idx := content.NewIndex(catalog())
	pattern := tags.Parse("math-course")

	got := idx.Closure(func(it content.Item) bool { return pattern.Match(it.Tag) })
	assert.Equal(t, []string{"c1", "c1-sub", "v1", "v2"}, ids(got))
}

func TestClosureIsSorted(t *testing.T) {
	idx := content.NewIndex(catalog())
	pattern := tags.Parse("math*")

	got := idx.Closure(func(it content.Item) bool { return pattern.Match(it.Tag) })
	assert.Equal(t, []string{"c1", "c1-sub", "v1", "v2", "v3"}, ids(got))
}

func TestCovers(t *testing.T) {
	idx := content.NewIndex(catalog())
	pattern := tags.Parse("math-course")
	match := func(it content.Item) bool { return pattern.Match(it.Tag) }

	v2, ok := idx.Get("v2")
	require.True(t, ok)
	assert.True(t, idx.Covers(v2, match), "grandchild with blank tag")

	v4, _ := idx.Get("v4")
	assert.False(t, idx.Covers(v4, match))

	orphan := content.Item{ID: "x", Parents: []string{"missing"}}
	assert.False(t, idx.Covers(orphan, match))
}

func TestCoversAgreesWithClosure(t *testing.T) {
	idx := content.NewIndex([]content.Item{
		{ID: "course", Tag: "math-course", IsCollection: true},
		{ID: "lesson", Tag: "", Parents: []string{"course"}},
		{ID: "attachment", Tag: "pdf", Parents: []string{"lesson"}},
		{ID: "worksheet", Tag: "math-sheet"},
		{ID: "answers", Tag: "", Parents: []string{"worksheet"}},
		{ID: "shelf", Tag: "shelf", IsCollection: true},
		{ID: "nested", Tag: "math-nested", IsCollection: true, Parents: []string{"shelf"}},
		{ID: "deep", Tag: "", Parents: []string{"nested"}},
	})

	tests := []struct {
		pattern string
		covered []string
	}{
		{pattern: "math-course", covered: []string{"attachment", "course", "lesson"}},
		{pattern: "math*", covered: []string{"attachment", "course", "deep", "lesson", "nested", "worksheet"}},
		{pattern: "pdf", covered: []string{"attachment"}},
		{pattern: "shelf", covered: []string{"deep", "nested", "shelf"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			pattern := tags.Parse(tt.pattern)
			match := func(it content.Item) bool { return pattern.Match(it.Tag) }

			closure := ids(idx.Closure(match))
			assert.Equal(t, tt.covered, closure)
			for _, it := range idx.Items() {
				assert.Equal(t, contains(closure, it.ID), idx.Covers(it, match), it.ID)
			}
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestCoversSurvivesCycles(t *testing.T) {
	idx := content.NewIndex([]content.Item{
		{ID: "a", IsCollection: true, Parents: []string{"b"}},
		{ID: "b", IsCollection: true, Parents: []string{"a"}},
	})
	never := func(content.Item) bool { return false }
	a, _ := idx.Get("a")
	assert.False(t, idx.Covers(a, never))
	assert.Empty(t, idx.Closure(never))

	all := func(it content.Item) bool { return it.ID == "a" }
	assert.Equal(t, []string{"a", "b"}, ids(idx.Closure(all)))
}

func TestStaticCatalog(t *testing.T) {
	c := content.NewStaticCatalog(
		content.Item{ID: "1", AppID: "app", WorkflowState: "published"},
		content.Item{ID: "2", AppID: "app", WorkflowState: "draft"},
		content.Item{ID: "3", AppID: "other", WorkflowState: "published"},
	)

	got, err := c.ListContent(context.Background(), "app", []string{"PUBLISHED"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))

	got, _ = c.ListContent(context.Background(), "app", nil)
	assert.Len(t, got, 2)

	c.Add(content.Item{ID: "2", AppID: "app", WorkflowState: "published"})
	got, _ = c.ListContent(context.Background(), "app", content.DefaultVisibleStates)
	assert.Len(t, got, 2)

	c.Remove("app", "1")
	got, _ = c.ListContent(context.Background(), "app", nil)
	assert.Equal(t, []string{"2"}, ids(got))
}
