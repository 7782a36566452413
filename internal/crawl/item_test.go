package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/signature"
)

func TestItemKeys(t *testing.T) {
	link := NewLinkItem("/catalog", nil)
	require.Equal(t, "link:/catalog", link.Key())
	require.Equal(t, "/catalog", link.Label())

	origin := signature.Compute(signature.Info{TopURL: "http://ref.local/catalog", DocPrint: "t:10;e:2"})
	click := NewClickItem(origin, browser.Clickable{
		Locator: browser.Locator{FrameKey: "top", ID: "buy"},
		Kind:    "button",
		Text:    "Buy now",
	}, nil)
	require.Contains(t, click.Key(), "click:")
	require.Contains(t, click.Key(), origin.Key())
	require.Equal(t, "Buy now", click.Label())
}

func TestChainPlusGrowsByOne(t *testing.T) {
	root := NewLinkItem("/", nil)
	child := NewLinkItem("/a", root.ChainPlus())
	grand := NewLinkItem("/a/b", child.ChainPlus())

	require.Empty(t, root.Chain())
	require.Equal(t, []*Item{root}, child.Chain())
	require.Equal(t, []*Item{root, child}, grand.Chain())

	// Extending a chain must not mutate the parent's.
	require.Len(t, child.Chain(), 1)
}

func TestStampIsSingleUse(t *testing.T) {
	it := NewLinkItem("/", nil)
	require.Equal(t, 0, it.Ordinal())
	require.NoError(t, it.stamp(3))
	require.Equal(t, 3, it.Ordinal())
	require.Error(t, it.stamp(4))
	require.Error(t, NewLinkItem("/x", nil).stamp(0))
}

func TestFrontierFIFO(t *testing.T) {
	var f Frontier
	_, ok := f.Pop()
	require.False(t, ok)

	f.Push(NewLinkItem("/a", nil))
	f.Push(NewLinkItem("/b", nil))
	require.Equal(t, 2, f.Len())

	first, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "/a", first.Path)
	second, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "/b", second.Path)
	require.Equal(t, 0, f.Len())
}
