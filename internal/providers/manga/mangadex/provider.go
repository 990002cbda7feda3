package mangadex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL      = "https://api.mangadex.org"
	defaultCoverBaseURL = "https://uploads.mangadex.org"
	mangaDexUserAgent   = "boox-reader/0.2"
)

// MangaDex allows roughly five API requests per second per client.
const (
	apiRequestsPerSecond = 5
	apiBurst             = 5
)

type Provider struct {
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	coverBaseURL string
	limiter      *rate.Limiter
	retryDelay   time.Duration
	logger       *slog.Logger
}

type Option func(*Provider)

// WithBaseURLs points the provider at a different API and uploads host.
func WithBaseURLs(apiURL, uploadsURL string) Option {
	return func(provider *Provider) {
		provider.baseURL = strings.TrimRight(apiURL, "/")
		provider.coverBaseURL = strings.TrimRight(uploadsURL, "/")
	}
}

func WithLimiter(limiter *rate.Limiter) Option {
	return func(provider *Provider) {
		provider.limiter = limiter
	}
}

func WithRetryDelay(delay time.Duration) Option {
	return func(provider *Provider) {
		provider.retryDelay = delay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(provider *Provider) {
		provider.logger = logger
	}
}

func New(httpClient *http.Client, apiKey string, options ...Option) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	provider := &Provider{
		httpClient:   httpClient,
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      defaultBaseURL,
		coverBaseURL: defaultCoverBaseURL,
		limiter:      rate.NewLimiter(rate.Limit(apiRequestsPerSecond), apiBurst),
		retryDelay:   250 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, option := range options {
		option(provider)
	}

	return provider
}

var _ manga.Source = (*Provider)(nil)

func (provider *Provider) Search(ctx context.Context, query string) ([]manga.SearchResult, error) {
	searchURL, err := url.Parse(provider.baseURL + "/manga")
	if err != nil {
		return nil, fmt.Errorf("error parsing search URL: %w", err)
	}

	q := searchURL.Query()
	q.Set("title", query)
	q.Set("limit", "20")
	q.Add("includes[]", "cover_art")
	searchURL.RawQuery = q.Encode()

	var result mangaSearchResponse
	if err := provider.getJSON(ctx, searchURL.String(), &result); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]manga.SearchResult, 0, len(result.Data))
	for _, entry := range result.Data {
		title := pickTitle(entry.Attributes.Title)
		if title == "" {
			continue
		}

		coverFileName := pickCoverFileName(entry.Relationships)
		coverURL := provider.buildCoverURL(entry.ID, coverFileName)
		results = append(results, manga.SearchResult{ID: entry.ID, Title: title, CoverURL: coverURL})
	}

	return results, nil
}

func (provider *Provider) FetchChapters(ctx context.Context, mangaID string) ([]manga.Chapter, error) {
	var allChapters []manga.Chapter
	seen := make(map[string]bool)
	limit := 100
	offset := 0

	for {
		endpoint := fmt.Sprintf("%s/chapter?limit=%d&offset=%d&manga=%s&contentRating[]=safe&contentRating[]=suggestive&contentRating[]=erotica&includeFutureUpdates=1&order[volume]=asc&order[chapter]=asc&translatedLanguage[]=en", provider.baseURL, limit, offset, url.QueryEscape(mangaID))

		var chapterResponse chapterResponse
		if err := provider.getJSON(ctx, endpoint, &chapterResponse); err != nil {
			return nil, fmt.Errorf("fetch chapters: %w", err)
		}

		for _, chapterData := range chapterResponse.Data {
			if seen[chapterData.ID] {
				continue
			}
			if chapterData.Attributes.ExternalURL != "" || chapterData.Attributes.Pages == 0 {
				continue
			}
			seen[chapterData.ID] = true

			chapterNumber, _ := strconv.ParseFloat(chapterData.Attributes.Chapter, 64)
			allChapters = append(allChapters, manga.Chapter{
				ID:             chapterData.ID,
				MangaID:        mangaID,
				Number:         chapterData.Attributes.Chapter,
				Title:          chapterData.Attributes.Title,
				Volume:         chapterData.Attributes.Volume,
				NumericChapter: chapterNumber,
			})
		}

		if len(chapterResponse.Data) < limit {
			break
		}
		offset += limit
	}

	SortChapters(allChapters)
	return allChapters, nil
}

// SortChapters orders chapters by chapter number, breaking ties by volume.
func SortChapters(chapters []manga.Chapter) {
	sort.SliceStable(chapters, func(i, j int) bool {
		if chapters[i].NumericChapter == chapters[j].NumericChapter {
			return chapters[i].Volume < chapters[j].Volume
		}
		return chapters[i].NumericChapter < chapters[j].NumericChapter
	})
}

func (provider *Provider) FetchCover(ctx context.Context, coverURL string) ([]byte, error) {
	if coverURL == "" {
		return nil, errors.New("cover url missing")
	}

	body, err := provider.get(ctx, coverURL, false)
	if err != nil {
		return nil, fmt.Errorf("fetch cover: %w", err)
	}
	return body, nil
}

func (provider *Provider) addHeaders(request *http.Request) {
	request.Header.Set("User-Agent", mangaDexUserAgent)
	if provider.apiKey == "" {
		return
	}
	request.Header.Set("Authorization", "Bearer "+provider.apiKey)
	request.Header.Set("X-Api-Key", provider.apiKey)
}

// statusError carries a non-200 response so callers can decide whether to retry.
type statusError struct {
	StatusCode int
	Body       string
}

func (err *statusError) Error() string {
	if err.Body == "" {
		return fmt.Sprintf("request failed: %d %s", err.StatusCode, http.StatusText(err.StatusCode))
	}
	return fmt.Sprintf("request failed: %d %s", err.StatusCode, err.Body)
}

// get performs a GET and returns the body. API calls go through the rate
// limiter; image downloads from the uploads or at-home hosts do not.
func (provider *Provider) get(ctx context.Context, endpoint string, api bool) ([]byte, error) {
	if api && provider.limiter != nil {
		if err := provider.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, manga.OtherError("build request", err)
	}
	provider.addHeaders(request)

	response, err := provider.httpClient.Do(request)
	if err != nil {
		return nil, manga.NetworkError("get", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, manga.NetworkError("read body", err)
	}

	if response.StatusCode != http.StatusOK {
		return nil, manga.NetworkError("get", &statusError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	return body, nil
}

func (provider *Provider) getJSON(ctx context.Context, endpoint string, target any) error {
	body, err := provider.get(ctx, endpoint, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return manga.ParsingError("decode response", err)
	}
	return nil
}

type mangaRelationship struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		FileName string `json:"fileName"`
	} `json:"attributes"`
}

type mangaSearchResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Title map[string]string `json:"title"`
		} `json:"attributes"`
		Relationships []mangaRelationship `json:"relationships"`
	} `json:"data"`
}

type chapterResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Volume      string `json:"volume"`
			Chapter     string `json:"chapter"`
			Title       string `json:"title"`
			Pages       int    `json:"pages"`
			ExternalURL string `json:"externalUrl"`
		} `json:"attributes"`
	} `json:"data"`
}

func (provider *Provider) buildCoverURL(mangaID, fileName string) string {
	if mangaID == "" || fileName == "" {
		return ""
	}

	return fmt.Sprintf("%s/covers/%s/%s.256.jpg", provider.coverBaseURL, mangaID, fileName)
}

func pickCoverFileName(relationships []mangaRelationship) string {
	for _, relation := range relationships {
		if relation.Type != "cover_art" {
			continue
		}
		if relation.Attributes.FileName != "" {
			return relation.Attributes.FileName
		}
	}

	return ""
}

func pickTitle(titles map[string]string) string {
	if titles == nil {
		return ""
	}

	if value, ok := titles["en"]; ok {
		return value
	}

	keys := make([]string, 0, len(titles))
	for key := range titles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if titles[key] != "" {
			return titles[key]
		}
	}

	return ""
}
