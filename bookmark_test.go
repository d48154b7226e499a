package flow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBookmarkRegistry(t *testing.T) {
	r := NewBookmarkRegistry()
	first := &Bookmark{ID: "bm_1", ActivityID: "a", Payload: "go"}
	second := &Bookmark{ID: "bm_2", ActivityID: "b", Payload: "go"}
	third := &Bookmark{ID: "bm_3", ActivityID: "a", Payload: "stop"}
	for _, b := range []*Bookmark{first, second, third} {
		require.NoError(t, r.Register(b))
	}

	t.Run("rejects invalid and duplicate bookmarks", func(t *testing.T) {
		require.Error(t, r.Register(nil))
		require.Error(t, r.Register(&Bookmark{ID: "bm_x"}))
		require.Error(t, r.Register(&Bookmark{ID: "bm_1", ActivityID: "z"}))
	})

	require.Equal(t, 3, r.Len())
	require.Equal(t, []*Bookmark{first, second, third}, r.All())
	require.Equal(t, []*Bookmark{first, second}, r.FindByPayload("go"))
	require.Empty(t, r.FindByPayload("nothing"))
	require.Equal(t, []*Bookmark{first, third}, r.FindByActivity("a"))
	require.True(t, r.HasBookmarks("b"))
	require.True(t, r.Contains("bm_2"))

	removed := r.Unregister(first, first, nil, &Bookmark{ID: "bm_unknown"})
	require.Equal(t, []*Bookmark{first}, removed)
	require.Equal(t, []*Bookmark{second, third}, r.All())
	require.True(t, r.HasBookmarks("a"))

	r.Unregister(third)
	require.False(t, r.HasBookmarks("a"))
	require.False(t, r.Contains("bm_3"))
	require.Equal(t, 1, r.Len())
}

func TestNewBookmarkID(t *testing.T) {
	a, b := NewBookmarkID(), NewBookmarkID()
	require.True(t, strings.HasPrefix(a, "bm_"))
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(NewInstanceID(), "wf_"))
}
