// Package gallery reads chapters published as a single HTML page of images.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

const defaultSelector = "img"

// Lazy-loading sites keep the real source in a data attribute.
var sourceAttributes = []string{"data-src", "data-original", "data-lazy-src", "src"}

type Provider struct {
	httpClient *http.Client
	selector   string
	logger     *slog.Logger
}

func New(httpClient *http.Client, selector string, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(selector) == "" {
		selector = defaultSelector
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{httpClient: httpClient, selector: selector, logger: logger}
}

var _ manga.Delegate = (*Provider)(nil)

type pageList struct {
	chapterURL string
	pages      []string
}

func (list *pageList) PageCount() int { return len(list.pages) }

func (provider *Provider) FetchDownloadInfo(ctx context.Context, chapter manga.Chapter, dataSaver bool) (manga.DownloadInfo, error) {
	if strings.TrimSpace(chapter.URL) == "" {
		return nil, manga.OtherError("gallery", fmt.Errorf("%w: chapter %s has no url", manga.ErrChapterMetadataMissing, chapter.ID))
	}

	base, err := url.Parse(chapter.URL)
	if err != nil {
		return nil, manga.ParsingError("parse chapter url", err)
	}

	response, err := provider.get(ctx, chapter.URL)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	doc, err := goquery.NewDocumentFromReader(response.Body)
	if err != nil {
		return nil, manga.ParsingError("parse chapter page", err)
	}

	list := &pageList{chapterURL: chapter.URL}
	seen := make(map[string]bool)
	doc.Find(provider.selector).Each(func(i int, selection *goquery.Selection) {
		source := pickSource(selection)
		if source == "" {
			return
		}
		resolved, err := base.Parse(source)
		if err != nil {
			provider.logger.Debug("skipping unparsable image source", "chapter", chapter.URL, "source", source, "error", err)
			return
		}
		absolute := resolved.String()
		if seen[absolute] {
			return
		}
		seen[absolute] = true
		list.pages = append(list.pages, absolute)
	})

	provider.logger.Debug("scraped chapter page", "chapter", chapter.URL, "pages", len(list.pages))
	return list, nil
}

func (provider *Provider) BuildPageURL(index int, info manga.DownloadInfo) (string, error) {
	list, err := asPageList(info)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(list.pages) {
		return "", manga.OtherError(fmt.Sprintf("page %d of %d", index, len(list.pages)), manga.ErrPageOutOfRange)
	}
	return list.pages[index], nil
}

func (provider *Provider) FetchPage(ctx context.Context, index int, info manga.DownloadInfo) ([]byte, error) {
	pageURL, err := provider.BuildPageURL(index, info)
	if err != nil {
		return nil, err
	}
	return provider.FetchPageByURL(ctx, pageURL, info)
}

func (provider *Provider) FetchPageByURL(ctx context.Context, pageURL string, info manga.DownloadInfo) ([]byte, error) {
	list, err := asPageList(info)
	if err != nil {
		return nil, err
	}

	response, err := provider.get(ctx, pageURL, withReferer(list.chapterURL))
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, manga.NetworkError("read page", err)
	}
	if len(data) == 0 {
		return nil, manga.ParsingError("read page", errors.New("empty image"))
	}
	return data, nil
}

type requestOption func(*http.Request)

// Image hosts commonly reject hotlinked requests without a referer.
func withReferer(referer string) requestOption {
	return func(request *http.Request) {
		request.Header.Set("Referer", referer)
	}
}

func (provider *Provider) get(ctx context.Context, target string, options ...requestOption) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, manga.OtherError("build request", err)
	}
	for _, option := range options {
		option(request)
	}

	response, err := provider.httpClient.Do(request)
	if err != nil {
		return nil, manga.NetworkError("get "+target, err)
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, manga.NetworkError("get "+target, fmt.Errorf("request failed: %s", response.Status))
	}
	return response, nil
}

func pickSource(selection *goquery.Selection) string {
	for _, attribute := range sourceAttributes {
		if value := strings.TrimSpace(selection.AttrOr(attribute, "")); value != "" && !strings.HasPrefix(value, "data:") {
			return value
		}
	}
	return ""
}

func asPageList(info manga.DownloadInfo) (*pageList, error) {
	list, ok := info.(*pageList)
	if !ok || list == nil {
		return nil, manga.OtherError("gallery", fmt.Errorf("unexpected download info %T", info))
	}
	return list, nil
}
