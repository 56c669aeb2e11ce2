package categorizing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/choreo/internal/ir"
)

const testVocab = `tag,category
dragons,creature
time travel,trope
enemies to lovers,relationship
`

func mustVocab(t *testing.T, src string) Vocabulary {
	t.Helper()
	v, err := ParseVocabulary(strings.NewReader(src))
	require.NoError(t, err)
	return v
}

func TestParseVocabulary(t *testing.T) {
	v := mustVocab(t, testVocab+"\n , ignored\nsolo\n")

	require.Len(t, v, 4)
	assert.Equal(t, Tag{Name: "dragons", Category: "creature"}, v[0])
	assert.Equal(t, Tag{Name: "solo"}, v[3])
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"fantasy", "adventure", "space opera"}, SplitTags("fantasy\nadventure, space opera,\n"))
	assert.Empty(t, SplitTags(""))
}

func TestCategorizeFic(t *testing.T) {
	ctx := context.Background()
	c := New(WithVocabulary(mustVocab(t, testVocab)))

	out := c.Invoke(ctx, "categorizeFic", ir.Obj(
		ir.O("ficId", ir.IRString("fic-1")),
		ir.O("ficText", ir.IRString("Dragons everywhere, and a bit of Time Travel.")),
		ir.O("authorTags", ir.IRString("dragon\nslice of life")),
	))
	require.False(t, ir.IsError(out))

	rows := c.Query(ctx, "_viewFicCategory", ir.Obj(ir.O("ficId", ir.IRString("fic-1"))))
	require.Len(t, rows, 1)
	fc := rows[0]["ficCategory"].(ir.IRObject)

	// "dragons" is mentioned but the author tag "dragon" is not an exact match,
	// so both are suggested; "dragon" is within distance of a known tag.
	suggested := fc["suggestedTags"].(ir.IRArray)
	require.Len(t, suggested, 2)
	assert.Equal(t, ir.IRString("dragons"), suggested[0].(ir.IRObject)["name"])
	assert.Equal(t, ir.IRString("time travel"), suggested[1].(ir.IRObject)["name"])
	assert.True(t, ir.Equal(ir.Strings("slice of life"), fc["tagsToRemove"]))
}

func TestDeleteFicCategory(t *testing.T) {
	ctx := context.Background()
	c := New()
	c.Invoke(ctx, "categorizeFic", ir.Obj(ir.O("ficId", ir.IRString("fic-1"))))

	out := c.Invoke(ctx, "deleteFicCategory", ir.Obj(ir.O("ficId", ir.IRString("fic-1"))))
	assert.Equal(t, ir.IRString("fic-1"), out["ficId"])

	out = c.Invoke(ctx, "deleteFicCategory", ir.Obj(ir.O("ficId", ir.IRString("fic-1"))))
	msg, _ := ir.ErrorMessage(out)
	assert.Equal(t, "FicCategory for fic ID 'fic-1' does not exist.", msg)

	rows := c.Query(ctx, "_viewFicCategory", ir.Obj(ir.O("ficId", ir.IRString("fic-1"))))
	require.Len(t, rows, 1)
	assert.True(t, ir.IsError(rows[0]))
}

func TestDeleteFicCategories(t *testing.T) {
	ctx := context.Background()
	c := New()
	for _, id := range []string{"a", "b", "c"} {
		c.Invoke(ctx, "categorizeFic", ir.Obj(ir.O("ficId", ir.IRString(id))))
	}

	out := c.Invoke(ctx, "deleteFicCategories", ir.Obj(ir.O("ficIds", ir.Strings("a", "c", "missing"))))
	assert.Equal(t, ir.IRInt(2), out["deleted"])

	rows := c.Query(ctx, "_getAllFicCategories", nil)
	require.Len(t, rows, 1)
	all := rows[0]["ficCategories"].(ir.IRArray)
	require.Len(t, all, 1)
	assert.Equal(t, ir.IRString("b"), all[0].(ir.IRObject)["ficId"])

	out = c.Invoke(ctx, "deleteFicCategories", ir.Obj(ir.O("ficIds", ir.IRString("b"))))
	assert.True(t, ir.IsError(out))
}

func TestWatchReloadsVocabulary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tags.csv")
	require.NoError(t, os.WriteFile(path, []byte("dragons,creature\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New()
	require.NoError(t, c.Watch(ctx, path))
	require.Len(t, c.Vocabulary(), 1)

	require.NoError(t, os.WriteFile(path, []byte("dragons,creature\nelves,creature\n"), 0o644))
	assert.Eventually(t, func() bool { return len(c.Vocabulary()) == 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatchMissingFile(t *testing.T) {
	c := New()
	err := c.Watch(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
