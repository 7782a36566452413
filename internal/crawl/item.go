// Package crawl implements the dual-deployment walk: a FIFO frontier of
// pending navigations, the per-visit mirror-and-compare pipeline, and the
// aggregated run result.
package crawl

import (
	"fmt"

	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/signature"
)

// Kind distinguishes how an Item is reached.
type Kind string

// Supported item kinds.
const (
	KindLink  Kind = "link"
	KindClick Kind = "click"
)

// Item is one pending visit in the frontier. Link items carry a server-side
// path navigated directly; click items carry the clickable description and
// the signature of the page it was discovered on.
type Item struct {
	Kind Kind

	// Path is the same-host path to navigate, for link items.
	Path string

	// Origin is the signature of the page the clickable was discovered on;
	// the click is only meaningful from there.
	Origin signature.Signature

	// Desc describes the clickable as observed on the reference deployment.
	Desc browser.Clickable

	chain   []*Item
	ordinal int

	dest      signature.Signature
	destValid bool
}

// NewLinkItem builds a link item reached via the given ancestor chain.
func NewLinkItem(path string, chain []*Item) *Item {
	return &Item{Kind: KindLink, Path: path, chain: chain}
}

// NewClickItem builds a click item discovered on the page identified by
// origin, reached via the given ancestor chain.
func NewClickItem(origin signature.Signature, desc browser.Clickable, chain []*Item) *Item {
	return &Item{Kind: KindClick, Origin: origin, Desc: desc, chain: chain}
}

// Key returns the dedupe key. Two items with equal keys resolve to the same
// place and only the first is ever visited.
func (it *Item) Key() string {
	if it.Kind == KindLink {
		return "link:" + it.Path
	}
	return "click:" + it.Origin.Key() + "|" + it.Desc.Locator.Key()
}

// Label names the item for artifacts and logs.
func (it *Item) Label() string {
	if it.Kind == KindLink {
		return it.Path
	}
	if it.Desc.Text != "" {
		return it.Desc.Text
	}
	return it.Desc.Locator.Key()
}

// Chain returns the ancestor hops that led to this item, root first. Callers
// must not mutate the returned slice.
func (it *Item) Chain() []*Item {
	return it.chain
}

// ChainPlus returns this item's chain extended with the item itself, for use
// as the chain of its children.
func (it *Item) ChainPlus() []*Item {
	out := make([]*Item, 0, len(it.chain)+1)
	out = append(out, it.chain...)
	return append(out, it)
}

// stamp assigns the 1-based visit ordinal. An item is stamped exactly once;
// a second stamp indicates a frontier bookkeeping bug.
func (it *Item) stamp(ordinal int) error {
	if it.ordinal != 0 {
		return fmt.Errorf("item %q already stamped with ordinal %d", it.Key(), it.ordinal)
	}
	if ordinal <= 0 {
		return fmt.Errorf("item %q: ordinal must be positive, got %d", it.Key(), ordinal)
	}
	it.ordinal = ordinal
	return nil
}

// Ordinal returns the visit ordinal, or 0 if the item was never visited.
func (it *Item) Ordinal() int {
	return it.ordinal
}

// setDest records where the visit landed on the reference deployment, once
// both sessions were resolved. Children discovered on that page use it as
// their click origin.
func (it *Item) setDest(sig signature.Signature) {
	it.dest = sig
	it.destValid = true
}

// Dest returns the destination signature stamped after resolution, and
// whether one was recorded.
func (it *Item) Dest() (signature.Signature, bool) {
	return it.dest, it.destValid
}
