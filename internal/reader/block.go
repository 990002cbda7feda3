package reader

// PageBlockSize is the unit of lazy loading and look-ahead.
const PageBlockSize = 10

type paginationBlock struct {
	loaded  bool
	members []string
}

func (block *paginationBlock) last() string {
	if len(block.members) == 0 {
		return ""
	}
	return block.members[len(block.members)-1]
}

// partition splits ids into consecutive blocks of size; the final block may
// be shorter.
func partition(ids []string, size int) []*paginationBlock {
	if size <= 0 {
		size = PageBlockSize
	}

	blocks := make([]*paginationBlock, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		members := make([]string, end-start)
		copy(members, ids[start:end])
		blocks = append(blocks, &paginationBlock{members: members})
	}
	return blocks
}
