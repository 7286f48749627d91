package richtext

import (
	"regexp"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

// editorHTML mirrors the shape of the worklog editor: three headed sections in
// one contenteditable container, each list starting with a placeholder.
const editorHTML = `<h3 class="x1"><strong>Tasks completed today</strong></h3>` +
	`<ul class="bullet-list"><li class="list-item"><p>Describe the tasks you completed today</p></li><li class="list-item"><p>second task</p></li></ul>` +
	`<h3><strong>Challenges encountered and how you overcame them</strong></h3>` +
	`<ul class="bullet-list"><li class="list-item"><p>Describe the challenges you encountered</p></li><li><p>kept challenge</p></li></ul>` +
	`<h3><strong>Blockers faced (challenges that you couldn't overcome)</strong></h3>` +
	"<ul>\n  <li><p>Describe the blockers you faced</p></li>\n  <li><p>kept &amp; blocker</p></li>\n</ul>"

var placeholders = []string{
	"Describe the tasks you completed today",
	"Describe the challenges you encountered",
	"Describe the blockers you faced",
}

var liPattern = regexp.MustCompile(`(?s)<li[^>]*>.*?</li>`)

// allItems returns every <li>...</li> in order; fixtures have no nested lists.
func allItems(s string) []string {
	return liPattern.FindAllString(s, -1)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;c&gt; &quot;d&quot; &#39;e&#39;", Escape(`a & b <c> "d" 'e'`))
	assert.Equal(t, "plain", Escape("plain"))
	assert.Equal(t, "&amp;amp;", Escape("&amp;"), "existing entities are escaped again, not trusted")
}

func TestCountLists(t *testing.T) {
	n, err := CountLists(editorHTML)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = CountLists(`<ul><li>a<ul><li>nested</li></ul></li></ul>`)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "nested lists are not top-level blocks")
}

func TestRewriteFirstItem(t *testing.T) {
	t.Run("should only change the first item of the addressed list", func(t *testing.T) {
		for k := 1; k <= 3; k++ {
			before := allItems(editorHTML)
			require.Len(t, before, 6)

			out, err := RewriteFirstItem(editorHTML, k, "new content")
			require.NoError(t, err)

			after := allItems(out)
			require.Len(t, after, 6)
			target := (k - 1) * 2
			for i := range before {
				if i == target {
					assert.NotEqual(t, before[i], after[i])
					assert.Contains(t, after[i], "<p>new content</p>", "paragraph wrapper is kept")
					continue
				}
				assert.Equal(t, before[i], after[i], "item %d must be byte-identical after rewriting list %d", i, k)
			}

			text, err := FirstItemText(out, k)
			require.NoError(t, err)
			assert.Equal(t, "new content", text)
		}
	})

	t.Run("should keep markup outside the item byte-identical", func(t *testing.T) {
		out, err := RewriteFirstItem(editorHTML, 2, "x")
		require.NoError(t, err)

		prefix := editorHTML[:strings.Index(editorHTML, "Describe the challenges")]
		suffix := editorHTML[strings.Index(editorHTML, "you encountered</p>")+len("you encountered"):]
		assert.Equal(t, prefix+"x"+suffix, out)
	})

	t.Run("should escape markup in content", func(t *testing.T) {
		input := `<script>alert("x")</script> & 'quotes'`
		out, err := RewriteFirstItem(editorHTML, 1, input)
		require.NoError(t, err)

		first := allItems(out)[0]
		inner := strings.TrimSuffix(strings.TrimPrefix(first, `<li class="list-item"><p>`), `</p></li>`)
		assert.NotContains(t, inner, "<")
		assert.NotContains(t, inner, ">")
		assert.NotContains(t, inner, `"`)
		assert.NotContains(t, inner, "'")
		assert.Equal(t, input, html.UnescapeString(inner))

		n, err := CountLists(out)
		require.NoError(t, err)
		assert.Equal(t, 3, n, "escaped content cannot open new blocks")
	})

	t.Run("should replace the whole item when there is no single paragraph", func(t *testing.T) {
		frag := `<ul><li>bare <em>text</em></li><li>two</li></ul>`
		out, err := RewriteFirstItem(frag, 1, "done")
		require.NoError(t, err)
		assert.Equal(t, `<ul><li>done</li><li>two</li></ul>`, out)

		frag = `<ul><li><p>a</p><p>b</p></li></ul>`
		out, err = RewriteFirstItem(frag, 1, "done")
		require.NoError(t, err)
		assert.Equal(t, `<ul><li>done</li></ul>`, out)
	})

	t.Run("should handle implicitly closed items", func(t *testing.T) {
		frag := "<ul><li>one\n<li>two</ul>"
		out, err := RewriteFirstItem(frag, 1, "uno")
		require.NoError(t, err)
		assert.Equal(t, "<ul><li>uno<li>two</ul>", out)
	})

	t.Run("should skip nested lists when counting blocks", func(t *testing.T) {
		frag := `<ul><li>a<ul><li>inner</li></ul></li></ul><ul><li>b</li></ul>`
		out, err := RewriteFirstItem(frag, 2, "B")
		require.NoError(t, err)
		assert.Equal(t, `<ul><li>a<ul><li>inner</li></ul></li></ul><ul><li>B</li></ul>`, out)

		out, err = RewriteFirstItem(frag, 1, "A")
		require.NoError(t, err)
		assert.Equal(t, `<ul><li>A<ul><li>inner</li></ul></li></ul><ul><li>b</li></ul>`, out)
	})

	t.Run("should keep lists nested in the rewritten item", func(t *testing.T) {
		frag := `<ul><li><p>Describe the tasks</p><ul><li><p>sub one</p></li></ul><ol><li>sub two</li></ol></li><li>next</li></ul>`
		out, err := RewriteFirstItem(frag, 1, "Shipped it")
		require.NoError(t, err)
		assert.Equal(t, `<ul><li><p>Shipped it</p><ul><li><p>sub one</p></li></ul><ol><li>sub two</li></ol></li><li>next</li></ul>`, out)

		text, err := FirstItemText(out, 1)
		require.NoError(t, err)
		assert.Equal(t, "Shipped it", text)
	})

	t.Run("should match tags case-insensitively", func(t *testing.T) {
		out, err := RewriteFirstItem(`<UL><LI><P>x</P></LI></UL>`, 1, "y")
		require.NoError(t, err)
		assert.Equal(t, `<UL><LI><P>y</P></LI></UL>`, out)
	})

	t.Run("should report missing blocks and items", func(t *testing.T) {
		_, err := RewriteFirstItem(editorHTML, 4, "x")
		assert.ErrorIs(t, err, ErrListNotFound)

		_, err = RewriteFirstItem(editorHTML, 0, "x")
		assert.ErrorIs(t, err, ErrListNotFound)

		_, err = RewriteFirstItem(`<ul></ul>`, 1, "x")
		assert.ErrorIs(t, err, ErrItemNotFound)

		_, err = RewriteFirstItem(`<p>no lists</p>`, 1, "x")
		assert.ErrorIs(t, err, ErrListNotFound)
	})
}

func TestRemovePlaceholders(t *testing.T) {
	t.Run("should remove placeholder items from every section", func(t *testing.T) {
		out, err := RemovePlaceholders(editorHTML, placeholders)
		require.NoError(t, err)

		for _, p := range placeholders {
			assert.NotContains(t, out, p)
		}
		assert.Contains(t, out, "<li><p>kept challenge</p></li>")
		assert.Contains(t, out, "<li><p>kept &amp; blocker</p></li>")
		assert.Len(t, allItems(out), 3)
	})

	t.Run("should not depend on removal order", func(t *testing.T) {
		orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}}
		var results []string
		for _, order := range orders {
			out := editorHTML
			for _, i := range order {
				var err error
				out, err = RemovePlaceholders(out, []string{placeholders[i]})
				require.NoError(t, err)
			}
			results = append(results, out)
		}
		all, err := RemovePlaceholders(editorHTML, placeholders)
		require.NoError(t, err)
		for _, r := range results {
			assert.Equal(t, all, r)
		}
	})

	t.Run("should be a no-op when no phrase is present", func(t *testing.T) {
		frag := `<ul><li>real work</li></ul><p>Describe the tasks</p>`
		out, err := RemovePlaceholders(frag, placeholders)
		require.NoError(t, err)
		assert.Equal(t, frag, out)

		out, err = RemovePlaceholders(frag, nil)
		require.NoError(t, err)
		assert.Equal(t, frag, out)
	})

	t.Run("should collapse whitespace when matching", func(t *testing.T) {
		frag := "<ul><li>keep</li><li>Describe the\n   tasks you completed   today</li></ul>"
		out, err := RemovePlaceholders(frag, placeholders)
		require.NoError(t, err)
		assert.Equal(t, "<ul><li>keep</li></ul>", out)
	})

	t.Run("should protect leading items when asked", func(t *testing.T) {
		out, err := RemovePlaceholders(editorHTML, placeholders, KeepLeadingItems())
		require.NoError(t, err)
		assert.Equal(t, editorHTML, out, "every placeholder in the fixture leads its list")

		frag := `<ul><li>Describe the blockers you faced</li><li>Describe the blockers you faced</li></ul>`
		out, err = RemovePlaceholders(frag, placeholders, KeepLeadingItems())
		require.NoError(t, err)
		assert.Equal(t, `<ul><li>Describe the blockers you faced</li></ul>`, out)
	})

	t.Run("should match on an item's own text only", func(t *testing.T) {
		frag := `<ul><li>parent<ul><li>Describe the blockers you faced</li></ul></li></ul>`
		out, err := RemovePlaceholders(frag, placeholders)
		require.NoError(t, err)
		assert.Equal(t, `<ul><li>parent<ul></ul></li></ul>`, out)
	})
}

func FuzzRewriteFirstItem(f *testing.F) {
	f.Add([]byte("seed"))
	f.Add([]byte(`<>&"'`))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		content, err := c.GetString()
		if err != nil {
			return
		}
		n, err := c.GetInt()
		if err != nil {
			return
		}
		ordinal := n%3 + 1
		if ordinal < 1 {
			ordinal += 3
		}

		before := allItems(editorHTML)
		out, err := RewriteFirstItem(editorHTML, ordinal, content)
		if err != nil {
			t.Fatalf("rewrite failed: %v", err)
		}
		if got := html.UnescapeString(Escape(content)); got != content {
			t.Fatalf("escape round trip: got %q want %q", got, content)
		}
		lists, err := CountLists(out)
		if err != nil || lists != 3 {
			t.Fatalf("structure changed: %d lists, err %v", lists, err)
		}
		after := allItems(out)
		if len(after) != len(before) {
			t.Fatalf("item count changed: %d -> %d", len(before), len(after))
		}
		for i := range before {
			if i == (ordinal-1)*2 {
				continue
			}
			if before[i] != after[i] {
				t.Fatalf("item %d changed: %q -> %q", i, before[i], after[i])
			}
		}
	})
}
