package omega

// TOC is the ordered table of contents of analysed channels, grouped by the
// name of the block they were configured in.
type TOC struct {
	blocks   []string
	channels map[string][]*Channel
}

func NewTOC() *TOC {
	return &TOC{channels: map[string][]*Channel{}}
}

// Add appends c to block, creating the block on first use.
func (t *TOC) Add(block string, c *Channel) {
	if _, ok := t.channels[block]; !ok {
		t.blocks = append(t.blocks, block)
	}
	t.channels[block] = append(t.channels[block], c)
}

// Blocks returns block names in insertion order.
func (t *TOC) Blocks() []string {
	return t.blocks
}

func (t *TOC) Channels(block string) []*Channel {
	return t.channels[block]
}

// All returns every channel, block by block.
func (t *TOC) All() []*Channel {
	var all []*Channel
	for _, b := range t.blocks {
		all = append(all, t.channels[b]...)
	}
	return all
}

func (t *TOC) Len() int {
	n := 0
	for _, cs := range t.channels {
		n += len(cs)
	}
	return n
}
