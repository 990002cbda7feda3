package mangadex

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/avast/retry-go/v4"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

const chapterDetailsAttempts = 3

// downloadInfo is the at-home server answer for one chapter.
type downloadInfo struct {
	chapterID   string
	baseURL     string
	hash        string
	pathSegment string
	fileNames   []string
}

func (info *downloadInfo) PageCount() int { return len(info.fileNames) }

type chapterDetails struct {
	Result  string `json:"result"`
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash      string   `json:"hash"`
		Data      []string `json:"data"`
		DataSaver []string `json:"dataSaver"`
	} `json:"chapter"`
}

func (provider *Provider) FetchDownloadInfo(ctx context.Context, chapter manga.Chapter, dataSaver bool) (manga.DownloadInfo, error) {
	details, err := provider.fetchChapterDetails(ctx, chapter.ID)
	if err != nil {
		return nil, err
	}

	info := &downloadInfo{
		chapterID:   chapter.ID,
		baseURL:     details.BaseURL,
		hash:        details.Chapter.Hash,
		pathSegment: "data",
		fileNames:   details.Chapter.Data,
	}
	if dataSaver && len(details.Chapter.DataSaver) > 0 {
		info.pathSegment = "data-saver"
		info.fileNames = details.Chapter.DataSaver
	}
	if len(info.fileNames) == 0 && len(details.Chapter.DataSaver) > 0 {
		info.pathSegment = "data-saver"
		info.fileNames = details.Chapter.DataSaver
	}

	provider.logger.Debug("fetched download info", "chapter", chapter.ID, "pages", info.PageCount(), "segment", info.pathSegment)
	return info, nil
}

func (provider *Provider) BuildPageURL(index int, info manga.DownloadInfo) (string, error) {
	details, err := asDownloadInfo(info)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(details.fileNames) {
		return "", manga.OtherError(fmt.Sprintf("page %d of %d", index, len(details.fileNames)), manga.ErrPageOutOfRange)
	}

	return fmt.Sprintf("%s/%s/%s/%s", details.baseURL, details.pathSegment, details.hash, details.fileNames[index]), nil
}

func (provider *Provider) FetchPage(ctx context.Context, index int, info manga.DownloadInfo) ([]byte, error) {
	pageURL, err := provider.BuildPageURL(index, info)
	if err != nil {
		return nil, err
	}
	return provider.FetchPageByURL(ctx, pageURL, info)
}

func (provider *Provider) FetchPageByURL(ctx context.Context, pageURL string, info manga.DownloadInfo) ([]byte, error) {
	if _, err := asDownloadInfo(info); err != nil {
		return nil, err
	}

	data, err := provider.get(ctx, pageURL, false)
	if err != nil {
		return nil, fmt.Errorf("error downloading %s: %w", pageURL, err)
	}
	if len(data) == 0 {
		return nil, manga.ParsingError("download page", fmt.Errorf("downloaded image %s is empty", pageURL))
	}

	return data, nil
}

func asDownloadInfo(info manga.DownloadInfo) (*downloadInfo, error) {
	details, ok := info.(*downloadInfo)
	if !ok || details == nil {
		return nil, manga.OtherError("mangadex", fmt.Errorf("unexpected download info %T", info))
	}
	return details, nil
}

func (provider *Provider) fetchChapterDetails(ctx context.Context, chapterID string) (*chapterDetails, error) {
	endpoint := fmt.Sprintf("%s/at-home/server/%s", provider.baseURL, chapterID)

	var details chapterDetails
	err := retry.Do(
		func() error {
			details = chapterDetails{}
			if err := provider.getJSON(ctx, endpoint, &details); err != nil {
				if !shouldRetry(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			if details.Result != "ok" {
				return manga.UnexpectedError("chapter details", fmt.Errorf("request returned %q", details.Result))
			}

			if details.BaseURL == "" || details.Chapter.Hash == "" {
				return manga.ParsingError("chapter details", fmt.Errorf(
					"%w: missing baseUrl/hash for %s (result=%q baseUrl=%q hash=%q data=%d dataSaver=%d)",
					manga.ErrChapterMetadataMissing,
					chapterID,
					details.Result,
					details.BaseURL,
					details.Chapter.Hash,
					len(details.Chapter.Data),
					len(details.Chapter.DataSaver),
				))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(chapterDetailsAttempts),
		retry.Delay(provider.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			provider.logger.Debug("retrying chapter details", "chapter", chapterID, "attempt", attempt+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	return &details, nil
}

// shouldRetry retries transport failures, rate limiting and server errors.
func shouldRetry(err error) bool {
	if manga.IsCancelled(err) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= http.StatusInternalServerError
	}
	return manga.KindOf(err) == manga.KindNetwork
}
