package manga

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countInfo int

func (info countInfo) PageCount() int { return int(info) }

type stubDelegate struct {
	pages   int
	failAt  int
	fetches atomic.Int32
}

func (stub *stubDelegate) FetchDownloadInfo(ctx context.Context, chapter Chapter, dataSaver bool) (DownloadInfo, error) {
	return countInfo(stub.pages), nil
}

func (stub *stubDelegate) FetchPage(ctx context.Context, index int, info DownloadInfo) ([]byte, error) {
	stub.fetches.Add(1)
	if index == stub.failAt {
		return nil, NetworkError("fetch page", errors.New("connection reset"))
	}
	return []byte(fmt.Sprintf("page-%d", index)), nil
}

func (stub *stubDelegate) FetchPageByURL(ctx context.Context, pageURL string, info DownloadInfo) ([]byte, error) {
	return nil, errors.New("not used")
}

func (stub *stubDelegate) BuildPageURL(index int, info DownloadInfo) (string, error) {
	return fmt.Sprintf("stub://%d", index), nil
}

func TestDownloadChapterKeepsReadingOrder(t *testing.T) {
	stub := &stubDelegate{pages: 7, failAt: -1}

	images, err := DownloadChapter(context.Background(), stub, Chapter{ID: "c1"}, false, 3)
	require.NoError(t, err)
	require.Len(t, images, 7)
	for index, image := range images {
		assert.Equal(t, fmt.Sprintf("page-%d", index), string(image))
	}
	assert.Equal(t, int32(7), stub.fetches.Load())
}

func TestDownloadChapterFailsOnPageError(t *testing.T) {
	stub := &stubDelegate{pages: 5, failAt: 2}

	_, err := DownloadChapter(context.Background(), stub, Chapter{ID: "c1"}, false, 0)
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestDownloadChapterWithoutPages(t *testing.T) {
	stub := &stubDelegate{pages: 0, failAt: -1}

	_, err := DownloadChapter(context.Background(), stub, Chapter{ID: "c1", Number: "4"}, false, 2)
	assert.ErrorIs(t, err, ErrChapterNoPages)
}
