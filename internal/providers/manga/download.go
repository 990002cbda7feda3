package manga

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const defaultDownloadConcurrency = 4

// DownloadChapter fetches every page of chapter through delegate, returning
// the images in reading order. It fails on the first page error.
func DownloadChapter(ctx context.Context, delegate Delegate, chapter Chapter, dataSaver bool, concurrency int) ([][]byte, error) {
	info, err := delegate.FetchDownloadInfo(ctx, chapter, dataSaver)
	if err != nil {
		return nil, err
	}

	count := info.PageCount()
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChapterNoPages, FormatChapterLabel(chapter))
	}

	if concurrency <= 0 {
		concurrency = defaultDownloadConcurrency
	}

	images := make([][]byte, count)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for index := 0; index < count; index++ {
		index := index
		group.Go(func() error {
			data, err := delegate.FetchPage(groupCtx, index, info)
			if err != nil {
				return fmt.Errorf("error downloading page %d: %w", index+1, err)
			}
			images[index] = data
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return images, nil
}
