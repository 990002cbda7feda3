// Package reader delivers a chapter's pages in reading order.
//
// A Loader owns one chapter: it partitions the page list into fixed-size
// blocks, fetches blocks lazily as pages become visible, and re-fetches
// individual pages on request. A Controller owns the current Loader plus at
// most one transition Loader for the adjacent chapter, builds the displayed
// sequence with boundary sentinels, and commits to the neighbour once the
// reader crosses the boundary.
//
// Loader and Controller state is only touched from one owner goroutine.
// Fetches run concurrently and hand their results back through a mailbox
// that the owner drains; Session runs that owner loop and is the type to use
// from other goroutines.
package reader
