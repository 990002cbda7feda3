package reader

import (
	"fmt"
	"strings"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

type Direction int

const (
	Previous Direction = iota
	Next
)

func (direction Direction) opposite() Direction {
	if direction == Previous {
		return Next
	}
	return Previous
}

func (direction Direction) String() string {
	if direction == Previous {
		return "previous"
	}
	return "next"
}

type TransitionKind int

const (
	ToPrevious TransitionKind = iota
	ToNext
	NoPrevious
	NoNext
)

// Transition is the sentinel between the current chapter and a neighbour.
// To is nil for NoPrevious and NoNext.
type Transition struct {
	Kind TransitionKind
	From manga.Chapter
	To   *manga.Chapter
}

func newTransition(direction Direction, from manga.Chapter, to *manga.Chapter) Transition {
	switch {
	case direction == Previous && to != nil:
		return Transition{Kind: ToPrevious, From: from, To: to}
	case direction == Previous:
		return Transition{Kind: NoPrevious, From: from}
	case to != nil:
		return Transition{Kind: ToNext, From: from, To: to}
	default:
		return Transition{Kind: NoNext, From: from}
	}
}

func (transition Transition) Direction() Direction {
	if transition.Kind == ToPrevious || transition.Kind == NoPrevious {
		return Previous
	}
	return Next
}

// ID depends only on the chapter ids, so the same boundary always yields the
// same id no matter how often it is rebuilt.
func (transition Transition) ID() string {
	target := "none"
	if transition.To != nil {
		target = transition.To.ID
	}
	return fmt.Sprintf("transition:%s:%s:%s", transition.Direction(), transition.From.ID, target)
}

func (transition Transition) CurrentLabel() string {
	return manga.FormatChapterLabel(transition.From)
}

func (transition Transition) NeighbourLabel() string {
	if transition.To == nil {
		return ""
	}
	return manga.FormatChapterLabel(*transition.To)
}

func (transition Transition) String() string {
	switch transition.Kind {
	case ToPrevious:
		return fmt.Sprintf("Previous: %s", transition.NeighbourLabel())
	case ToNext:
		return fmt.Sprintf("Next: %s", transition.NeighbourLabel())
	case NoPrevious:
		return "There is no previous chapter"
	default:
		return "There is no next chapter"
	}
}

type ItemKind int

const (
	ItemPage ItemKind = iota
	ItemTransition
)

type Group int

const (
	GroupPrevious Group = iota
	GroupCurrent
	GroupNext
)

// Item is one entry of the displayed sequence.
type Item struct {
	Kind       ItemKind
	Group      Group
	Chapter    manga.Chapter
	Page       Page
	PageCount  int
	Transition Transition
	// Resolved is false for a sentinel whose neighbour lookup is pending.
	Resolved   bool
}

// ID names the item in the displayed sequence. Page urls are only unique
// within a chapter, so page ids carry the chapter id as well.
func (item Item) ID() string {
	if item.Kind == ItemTransition {
		return item.Transition.ID()
	}
	return PageItemID(item.Chapter.ID, item.Page.URL)
}

const pageItemSeparator = "\x00"

// PageItemID is the displayed id of the page at url in chapterID.
func PageItemID(chapterID, url string) string {
	return chapterID + pageItemSeparator + url
}

func splitPageItemID(id string) (chapterID, url string, ok bool) {
	return strings.Cut(id, pageItemSeparator)
}

// View is what the reader UI renders.
type View struct {
	Chapter   manga.Chapter
	Items     []Item
	// Prepared is set once the current chapter has a page list.
	Prepared  bool
	Preparing bool
	Err       error
}

// IndexOf returns the position of id in the displayed sequence, or -1.
func (view View) IndexOf(id string) int {
	for index, item := range view.Items {
		if item.ID() == id {
			return index
		}
	}
	return -1
}
