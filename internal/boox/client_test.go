package boox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetry(2, 0))
}

func TestCheckConnection(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/device", r.URL.Path)
		w.Write([]byte(`{"model":"Note Air","storageUsed":"1GB","storageTotal":"32GB"}`))
	}))

	device, err := client.CheckConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Note Air", device.Model)
}

func TestLibraryListsBooksThenFolders(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("args")), &args))
		assert.Equal(t, "folder-1", args["libraryUniqueId"])
		assert.EqualValues(t, 50, args["limit"])

		w.Write([]byte(`{"bookCount":1,"libraryCount":1,
			"visibleBookList":[{"idString":"b1","title":"Chapter 1.cbz"}],
			"visibleLibraryList":[{"idString":"f1","title":"Berserk"}]}`))
	}))

	query := DefaultLibraryQuery()
	query.FolderID = "folder-1"
	listing, err := client.Library(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{ID: "b1", Title: "Chapter 1.cbz"},
		{ID: "f1", Title: "Berserk", Folder: true},
	}, listing.Entries)
}

func TestCreateFolderAtRoot(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Nil(t, payload["parent"])
		assert.Equal(t, "Berserk", payload["name"])
		w.Write([]byte(`{"id":"new-folder"}`))
	}))

	id, err := client.CreateFolder(context.Background(), "", "Berserk")
	require.NoError(t, err)
	assert.Equal(t, "new-folder", id)
}

func TestUploadFileSendsMultipart(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "folder", r.FormValue("parent"))
		assert.Equal(t, "ch1.cbz", r.FormValue("name"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "ch1.cbz", header.Filename)
		assert.Equal(t, "zipdata", string(data))
	}))

	require.NoError(t, client.UploadFile(context.Background(), "folder", "ch1.cbz", []byte("zipdata")))
}

func TestStatusErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "disk full", http.StatusInsufficientStorage)
	}))

	err := client.UploadFile(context.Background(), "", "ch1.cbz", []byte("x"))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInsufficientStorage, statusErr.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTransportErrorsAreRetried(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client := NewClient(baseURL, nil, WithRetry(2, 0), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := client.CheckConnection(context.Background())
	assert.ErrorContains(t, err, "check device")
}
