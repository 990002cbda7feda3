package reader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

type controllerFixture struct {
	controller *Controller
	box        *mailbox
	delegate   *fakeDelegate
	directory  *fakeDirectory
	hooks      *recordingHooks
	views      int
}

func chapters(ids ...string) []manga.Chapter {
	result := make([]manga.Chapter, len(ids))
	for index, id := range ids {
		result[index] = manga.Chapter{ID: id, MangaID: "m", Number: id}
	}
	return result
}

func newControllerFixture(t *testing.T, counts map[string]int, order []manga.Chapter) *controllerFixture {
	t.Helper()

	fixture := &controllerFixture{
		box:       newMailbox(),
		delegate:  newFakeDelegate(counts),
		directory: &fakeDirectory{chapters: order},
		hooks:     &recordingHooks{},
	}
	options := Options{
		Source:        fixture.delegate,
		Directory:     fixture.directory,
		Hooks:         fixture.hooks,
		LoaderOptions: LoaderOptions{Logger: quietLogger},
	}
	fixture.controller = newController(context.Background(), fixture.box, options, func(View) {
		fixture.views++
	})
	t.Cleanup(func() {
		fixture.controller.Close()
		fixture.box.settle()
	})
	return fixture
}

func (fixture *controllerFixture) open(chapter manga.Chapter, edge Edge) {
	fixture.controller.Open(chapter, edge)
	fixture.box.settle()
}

func (fixture *controllerFixture) visible(id string) {
	fixture.controller.Visible(id)
	fixture.box.settle()
}

func transitionIDs(view View) []string {
	ids := []string{}
	for _, item := range view.Items {
		if item.Kind == ItemTransition {
			ids = append(ids, item.ID())
		}
	}
	return ids
}

func groupCount(view View, group Group) int {
	count := 0
	for _, item := range view.Items {
		if item.Kind == ItemPage && item.Group == group {
			count++
		}
	}
	return count
}

func TestOpenBuildsSentinelsAroundCurrentChapter(t *testing.T) {
	order := chapters("c1", "c2", "c3")
	fixture := newControllerFixture(t, map[string]int{"c1": 4, "c2": 5, "c3": 6}, order)

	fixture.open(order[1], EdgeStart)

	view := fixture.controller.View()
	assert.Equal(t, "c2", view.Chapter.ID)
	assert.Equal(t, []string{"transition:previous:c2:c1", "transition:next:c2:c3"}, transitionIDs(view))
	assert.Equal(t, 5, groupCount(view, GroupCurrent))
	assert.Zero(t, groupCount(view, GroupPrevious))
	assert.Zero(t, groupCount(view, GroupNext))
	assert.ElementsMatch(t, []string{"previous:c2", "next:c2"}, fixture.directory.callLog())
	assert.Equal(t, "c2", fixture.hooks.openedChapters())

	first := view.Items[1]
	assert.Equal(t, itemID("c2", 0), first.ID())
	assert.Equal(t, PageRemote, first.Page.Status)
	assert.Equal(t, 1, view.IndexOf(itemID("c2", 0)))
	assert.Equal(t, -1, view.IndexOf(itemID("c9", 0)))
	assert.Equal(t, -1, view.IndexOf("c2/p0"), "a bare url is not an item id")
}

func TestOpenAtEndLoadsLastBlock(t *testing.T) {
	order := chapters("c1")
	fixture := newControllerFixture(t, map[string]int{"c1": 23}, order)

	fixture.open(order[0], EdgeEnd)

	pages := fixture.controller.Current().Pages()
	assert.Equal(t, PageRemote, pages[22].Status)
	assert.Equal(t, PageLoading, pages[0].Status)
	assert.Equal(t, 3, fixture.delegate.fetchCount())
}

func TestRepeatedBoundaryEntryCreatesOneTransition(t *testing.T) {
	order := chapters("c1", "c2")
	fixture := newControllerFixture(t, map[string]int{"c1": 3, "c2": 12}, order)
	fixture.open(order[0], EdgeStart)

	sentinel := "transition:next:c1:c2"
	fixture.visible(sentinel)
	first := fixture.controller.Transition()
	require.NotNil(t, first)

	for range 5 {
		fixture.controller.Visible(sentinel)
	}
	fixture.box.settle()

	assert.Same(t, first, fixture.controller.Transition())
	assert.Equal(t, 1, fixture.delegate.infoCallCount("c2"))
	assert.Equal(t, 3+10, fixture.delegate.fetchCount(), "only the first block of the next chapter")

	view := fixture.controller.View()
	assert.Equal(t, 12, groupCount(view, GroupNext))
	assert.Equal(t, "c1", view.Chapter.ID)
}

func TestNoNextChapterYieldsNoTransition(t *testing.T) {
	order := chapters("c1")
	fixture := newControllerFixture(t, map[string]int{"c1": 3}, order)
	fixture.open(order[0], EdgeStart)

	view := fixture.controller.View()
	last := view.Items[len(view.Items)-1]
	require.Equal(t, ItemTransition, last.Kind)
	assert.Equal(t, NoNext, last.Transition.Kind)
	assert.Equal(t, "There is no next chapter", last.Transition.String())

	fixture.visible(last.ID())

	assert.Nil(t, fixture.controller.Transition())
	assert.Nil(t, fixture.controller.Neighbour(Next))
	assert.Zero(t, fixture.delegate.infoCallCount("c2"))
}

func TestCommitNextShiftsNeighbours(t *testing.T) {
	order := chapters("c1", "c2", "c3")
	fixture := newControllerFixture(t, map[string]int{"c1": 3, "c2": 4, "c3": 2}, order)
	fixture.open(order[0], EdgeStart)
	old := fixture.controller.Current()

	fixture.visible("transition:next:c1:c2")
	fixture.visible(itemID("c2", 0))

	controller := fixture.controller
	assert.Equal(t, "c2", controller.Current().Chapter().ID)
	assert.Nil(t, controller.Transition())
	require.NotNil(t, controller.Neighbour(Previous))
	assert.Equal(t, "c1", controller.Neighbour(Previous).ID)
	require.NotNil(t, controller.Neighbour(Next))
	assert.Equal(t, "c3", controller.Neighbour(Next).ID)
	assert.False(t, old.Discarded(), "the old chapter stays displayed behind")

	calls := fixture.directory.callLog()
	assert.Contains(t, calls, "next:c2")
	assert.NotContains(t, calls, "previous:c2")
	assert.Equal(t, "c1,c2", fixture.hooks.openedChapters())

	view := controller.View()
	assert.Equal(t, []string{"transition:previous:c2:c1", "transition:next:c2:c3"}, transitionIDs(view))
	assert.Equal(t, 3, groupCount(view, GroupPrevious))
	assert.Equal(t, 4, groupCount(view, GroupCurrent))
}

func TestCommitPreviousShiftsNeighbours(t *testing.T) {
	order := chapters("c1", "c2", "c3")
	fixture := newControllerFixture(t, map[string]int{"c1": 12, "c2": 4, "c3": 2}, order)
	fixture.open(order[1], EdgeStart)

	fixture.visible("transition:previous:c2:c1")
	previous := fixture.controller.Transition()
	require.NotNil(t, previous)
	pages := previous.Pages()
	assert.Equal(t, PageRemote, pages[11].Status, "entering backwards loads the last block")
	assert.Equal(t, PageLoading, pages[0].Status)

	fixture.visible(itemID("c1", 11))

	controller := fixture.controller
	assert.Equal(t, "c1", controller.Current().Chapter().ID)
	assert.Equal(t, "c2", controller.Neighbour(Next).ID)
	assert.Nil(t, controller.Neighbour(Previous))
	assert.Contains(t, fixture.directory.callLog(), "previous:c1")
}

func TestCommitNextWhenChaptersShareAPageURL(t *testing.T) {
	const logo = "https://site/logo.png"
	order := chapters("c1", "c2", "c3")
	fixture := newControllerFixture(t, map[string]int{"c1": 3, "c2": 3, "c3": 2}, order)
	fixture.delegate.sharedFirst = logo
	fixture.open(order[0], EdgeStart)

	fixture.visible("transition:next:c1:c2")

	view := fixture.controller.View()
	current := view.IndexOf(PageItemID("c1", logo))
	next := view.IndexOf(PageItemID("c2", logo))
	require.GreaterOrEqual(t, current, 0)
	require.Greater(t, next, current)
	assert.Equal(t, GroupCurrent, view.Items[current].Group)
	assert.Equal(t, GroupNext, view.Items[next].Group)

	fixture.visible(view.Items[next].ID())
	fixture.visible(itemID("c2", 1))
	fixture.visible(itemID("c2", 2))

	assert.Equal(t, "c2", fixture.controller.Current().Chapter().ID)
	assert.Contains(t, fixture.hooks.viewed, "c2:0/3")
}

func TestEnterSwitchesSides(t *testing.T) {
	order := chapters("c1", "c2", "c3")
	fixture := newControllerFixture(t, map[string]int{"c1": 4, "c2": 3, "c3": 5}, order)
	fixture.open(order[1], EdgeStart)
	controller := fixture.controller

	fixture.visible("transition:next:c2:c3")
	next := controller.Transition()
	require.NotNil(t, next)
	assert.Equal(t, "c3", next.Chapter().ID)

	fixture.visible("transition:previous:c2:c1")
	previous := controller.Transition()
	require.NotNil(t, previous)
	assert.Equal(t, "c1", previous.Chapter().ID)
	assert.NotSame(t, next, previous)
	assert.False(t, next.Discarded(), "the next chapter stays displayed until a commit")
	assert.Equal(t, 1, fixture.delegate.infoCallCount("c3"))
	assert.Equal(t, 1, fixture.delegate.infoCallCount("c1"))

	fixture.visible(itemID("c1", 3))

	assert.Equal(t, "c1", controller.Current().Chapter().ID)
	assert.Nil(t, controller.Transition())
	assert.True(t, next.Discarded())
	assert.False(t, previous.Discarded())
	require.NotNil(t, controller.Neighbour(Next))
	assert.Equal(t, "c2", controller.Neighbour(Next).ID)
	assert.Zero(t, groupCount(controller.View(), GroupPrevious))
}

func TestCommitDiscardsStaleNeighbour(t *testing.T) {
	order := chapters("c1", "c2", "c3")
	fixture := newControllerFixture(t, map[string]int{"c1": 2, "c2": 2, "c3": 2}, order)
	fixture.open(order[0], EdgeStart)

	fixture.visible("transition:next:c1:c2")
	fixture.visible(itemID("c2", 0))
	require.Equal(t, "c2", fixture.controller.Current().Chapter().ID)
	behind := fixture.controller.sides[Previous].loader

	fixture.visible("transition:next:c2:c3")
	fixture.visible(itemID("c3", 0))

	assert.True(t, behind.Discarded())
	assert.Equal(t, "c2", fixture.controller.Neighbour(Previous).ID)
}

func TestSentinelSeenBeforeLookupIsEnteredLater(t *testing.T) {
	order := chapters("c1", "c2")
	fixture := newControllerFixture(t, map[string]int{"c1": 2, "c2": 2}, order)

	fixture.controller.Open(order[0], EdgeStart)
	view := fixture.controller.View()
	assert.False(t, view.Items[len(view.Items)-1].Resolved)
	fixture.controller.Visible("transition:next:c1:none")
	assert.Nil(t, fixture.controller.Transition())
	fixture.box.settle()

	require.NotNil(t, fixture.controller.Transition())
	assert.Equal(t, "c2", fixture.controller.Transition().Chapter().ID)
	view = fixture.controller.View()
	assert.True(t, view.Items[0].Resolved)
	assert.Equal(t, 2, groupCount(fixture.controller.View(), GroupNext))
}

func TestDirectoryErrorMeansNoNeighbour(t *testing.T) {
	order := chapters("c1", "c2")
	fixture := newControllerFixture(t, map[string]int{"c1": 2, "c2": 2}, order)
	fixture.directory.err = manga.NetworkError("find chapter", errors.New("offline"))

	fixture.open(order[0], EdgeStart)
	fixture.visible("transition:next:c1:none")

	view := fixture.controller.View()
	assert.Nil(t, fixture.controller.Transition())
	assert.Equal(t, manga.KindNetwork, manga.KindOf(view.Err))
}

func TestReloadFromRetriesFailedPagesInWindow(t *testing.T) {
	order := chapters("c1")
	fixture := newControllerFixture(t, map[string]int{"c1": 23}, order)
	fixture.delegate.setFailing("c1/p0", "c1/p2", "c1/p4", "c1/p13")
	fixture.open(order[0], EdgeStart)
	fixture.controller.LoadRemaining()
	fixture.box.settle()
	fixture.delegate.setFailing()

	fixture.controller.ReloadFrom(itemID("c1", 1))
	fixture.box.settle()

	log := fixture.delegate.fetchLog()
	assert.Contains(t, log, "url:c1/p2")
	assert.Contains(t, log, "url:c1/p4")
	assert.NotContains(t, log, "url:c1/p0", "slots before the anchor are left alone")
	assert.NotContains(t, log, "url:c1/p13", "slots past the window are left alone")

	pages := fixture.controller.Current().Pages()
	assert.Equal(t, PageNotFound, pages[0].Status)
	assert.Equal(t, PageRemote, pages[2].Status)
	assert.Equal(t, PageNotFound, pages[13].Status)
}

func TestReloadFromIgnoresNeighbourPages(t *testing.T) {
	order := chapters("c1", "c2")
	fixture := newControllerFixture(t, map[string]int{"c1": 2, "c2": 3}, order)
	fixture.delegate.setFailing("c2/p1")
	fixture.open(order[0], EdgeStart)
	fixture.visible("transition:next:c1:c2")
	fixture.delegate.setFailing()

	fixture.controller.ReloadFrom(itemID("c2", 1))
	fixture.box.settle()

	assert.NotContains(t, fixture.delegate.fetchLog(), "url:c2/p1")
	pages := fixture.controller.Transition().Pages()
	assert.Equal(t, PageNotFound, pages[1].Status)
}

func TestReloadFromRetriesFailedPrepare(t *testing.T) {
	order := chapters("c1")
	fixture := newControllerFixture(t, map[string]int{"c1": 3}, order)
	fixture.delegate.infoErrors = 1

	fixture.open(order[0], EdgeStart)
	require.Error(t, fixture.controller.View().Err)
	require.Zero(t, fixture.controller.Current().PageCount())

	fixture.controller.ReloadFrom("")
	fixture.box.settle()

	assert.Equal(t, 3, countStatus(fixture.controller.Current().Pages(), PageRemote))
}

func TestVisiblePrefetchesAndRecordsProgress(t *testing.T) {
	order := chapters("c1")
	fixture := newControllerFixture(t, map[string]int{"c1": 23}, order)
	fixture.open(order[0], EdgeStart)

	fixture.visible(itemID("c1", 9))

	assert.Equal(t, 20, fixture.delegate.fetchCount())
	assert.Equal(t, []string{"c1:9/23"}, fixture.hooks.viewed)
}

func TestOpenDiscardsPreviousSession(t *testing.T) {
	order := chapters("c1", "c2")
	fixture := newControllerFixture(t, map[string]int{"c1": 2, "c2": 2}, order)
	fixture.open(order[0], EdgeStart)
	first := fixture.controller.Current()

	fixture.open(order[1], EdgeStart)

	assert.True(t, first.Discarded())
	assert.Equal(t, "c2", fixture.controller.View().Chapter.ID)
}
