// Package boox talks to the transfer server of a Boox tablet.
package boox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
)

type DeviceDetails struct {
	Host         string `json:"host"`
	ID           string `json:"id"`
	MAC          string `json:"mac"`
	Model        string `json:"model"`
	StorageTotal string `json:"storageTotal"`
	StorageUsed  string `json:"storageUsed"`
	DeviceType   string `json:"type"`
}

type libraryResponse struct {
	BookCount          int         `json:"bookCount"`
	LibraryCount       int         `json:"libraryCount"`
	VisibleBookList    []entryJSON `json:"visibleBookList"`
	VisibleLibraryList []entryJSON `json:"visibleLibraryList"`
}

type entryJSON struct {
	ID    string `json:"idString"`
	Title string `json:"title"`
}

// Entry is a book or folder on the device.
type Entry struct {
	ID     string
	Title  string
	Folder bool
}

// Listing is one page of the device library.
type Listing struct {
	BookCount   int
	FolderCount int
	Entries     []Entry
}

type LibraryQuery struct {
	Limit    int
	Offset   int
	SortBy   string
	Order    string
	FolderID string
}

// DefaultLibraryQuery lists the newest entries first.
func DefaultLibraryQuery() LibraryQuery {
	return LibraryQuery{Limit: 50, SortBy: "updatedAt", Order: "desc"}
}

// StatusError is returned when the device answers with a non-200 status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", err.Op, err.StatusCode, err.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	attempts   uint
	retryDelay time.Duration
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) { client.logger = logger }
}

// WithRetry sets how often a request is attempted when the device does not
// answer.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(client *Client) {
		client.attempts = attempts
		client.retryDelay = delay
	}
}

func NewClient(baseURL string, httpClient *http.Client, options ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	client := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     slog.Default(),
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

func (client *Client) BaseURL() string { return client.baseURL }

func (client *Client) CheckConnection(ctx context.Context) (*DeviceDetails, error) {
	var device DeviceDetails
	if err := client.call(ctx, "check device", http.MethodGet, "/api/device", nil, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// Library lists books and folders, books first.
func (client *Client) Library(ctx context.Context, query LibraryQuery) (Listing, error) {
	endpoint, err := client.libraryURL(query)
	if err != nil {
		return Listing{}, fmt.Errorf("build library url: %w", err)
	}

	var response libraryResponse
	if err := client.call(ctx, "list library", http.MethodGet, endpoint, nil, &response); err != nil {
		return Listing{}, err
	}

	listing := Listing{
		BookCount:   response.BookCount,
		FolderCount: response.LibraryCount,
		Entries:     make([]Entry, 0, len(response.VisibleBookList)+len(response.VisibleLibraryList)),
	}
	for _, book := range response.VisibleBookList {
		listing.Entries = append(listing.Entries, Entry{ID: book.ID, Title: book.Title})
	}
	for _, folder := range response.VisibleLibraryList {
		listing.Entries = append(listing.Entries, Entry{ID: folder.ID, Title: folder.Title, Folder: true})
	}
	return listing, nil
}

// CreateFolder creates a folder under parentID, or at the root when parentID
// is empty, and returns its id.
func (client *Client) CreateFolder(ctx context.Context, parentID, title string) (string, error) {
	payload := struct {
		Parent any    `json:"parent"`
		Name   string `json:"name"`
	}{Name: title}
	if parentID != "" {
		payload.Parent = parentID
	}

	var response struct {
		ID string `json:"id"`
	}
	if err := client.call(ctx, "create folder", http.MethodPost, "/api/library", jsonBody(payload), &response); err != nil {
		return "", err
	}
	return response.ID, nil
}

func (client *Client) UploadFile(ctx context.Context, parentID, fileName string, fileData []byte) error {
	body := func() (io.Reader, string, error) {
		buffer := &bytes.Buffer{}
		writer := multipart.NewWriter(buffer)

		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			return nil, "", fmt.Errorf("unable to create form file: %w", err)
		}
		if _, err := part.Write(fileData); err != nil {
			return nil, "", fmt.Errorf("unable to write file data: %w", err)
		}
		if parentID != "" {
			if err := writer.WriteField("parent", parentID); err != nil {
				return nil, "", err
			}
		}
		if err := writer.WriteField("name", fileName); err != nil {
			return nil, "", err
		}
		if err := writer.Close(); err != nil {
			return nil, "", fmt.Errorf("unable to finalize form: %w", err)
		}
		return buffer, writer.FormDataContentType(), nil
	}

	client.logger.Debug("uploading file", "name", fileName, "bytes", len(fileData), "parent", parentID)
	return client.call(ctx, "upload "+fileName, http.MethodPost, "/api/library/upload", body, nil)
}

func (client *Client) RenameItem(ctx context.Context, id, newName string) error {
	payload := struct {
		IDString string `json:"idString"`
		File     string `json:"file"`
		Name     string `json:"name"`
	}{IDString: id, File: id, Name: newName}

	return client.call(ctx, "rename item", http.MethodPost, "/api/library/rename", jsonBody(payload), nil)
}

// bodyFunc builds a fresh request body for every attempt.
type bodyFunc func() (io.Reader, string, error)

func jsonBody(payload any) bodyFunc {
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("error marshaling JSON: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// call sends one request, retrying transport failures, and decodes a JSON
// answer into out when out is non-nil. endpoint is either a path under the
// base url or a full url.
func (client *Client) call(ctx context.Context, op, method, endpoint string, body bodyFunc, out any) error {
	target := endpoint
	if len(endpoint) > 0 && endpoint[0] == '/' {
		target = client.baseURL + endpoint
	}

	return retry.Do(
		func() error {
			var reader io.Reader
			contentType := ""
			if body != nil {
				var err error
				reader, contentType, err = body()
				if err != nil {
					return retry.Unrecoverable(err)
				}
			}

			request, err := http.NewRequestWithContext(ctx, method, target, reader)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("%s: build request: %w", op, err))
			}
			if contentType != "" {
				request.Header.Set("Content-Type", contentType)
			}

			response, err := client.httpClient.Do(request)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			defer response.Body.Close()

			if response.StatusCode != http.StatusOK {
				data, _ := io.ReadAll(response.Body)
				return retry.Unrecoverable(&StatusError{Op: op, StatusCode: response.StatusCode, Body: string(data)})
			}
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(response.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("%s: decode response: %w", op, err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(client.attempts),
		retry.Delay(client.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			client.logger.Debug("retrying device request", "op", op, "attempt", attempt+1, "error", err)
		}),
	)
}

func (client *Client) libraryURL(query LibraryQuery) (string, error) {
	parsed, err := url.Parse(client.baseURL + "/api/library")
	if err != nil {
		return "", err
	}

	args := map[string]any{
		"limit":  query.Limit,
		"offset": query.Offset,
		"sortBy": query.SortBy,
		"order":  query.Order,
	}
	if query.FolderID != "" {
		args["libraryUniqueId"] = query.FolderID
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	values := parsed.Query()
	values.Set("args", string(argsJSON))
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}
