package crawl

// Frontier is the FIFO queue of pending visits. Breadth-first order keeps
// replay chains short: a page is always reached through the shortest
// discovered route.
type Frontier struct {
	items []*Item
}

// Push appends an item to the tail.
func (f *Frontier) Push(it *Item) {
	f.items = append(f.items, it)
}

// Pop removes and returns the head item, reporting false when empty.
func (f *Frontier) Pop() (*Item, bool) {
	if len(f.items) == 0 {
		return nil, false
	}
	it := f.items[0]
	f.items[0] = nil
	f.items = f.items[1:]
	return it, true
}

// Len reports the number of pending items.
func (f *Frontier) Len() int {
	return len(f.items)
}
