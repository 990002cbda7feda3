package ui

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWriterSplitsLines(t *testing.T) {
	channel := make(chan logMsg, 4)
	writer := logWriter{channel: channel}

	n, err := writer.Write([]byte("first\n\n  second  \n"))
	require.NoError(t, err)
	assert.Equal(t, 18, n)
	assert.Equal(t, logMsg("first"), <-channel)
	assert.Equal(t, logMsg("second"), <-channel)
}

func TestLogWriterDropsWhenFull(t *testing.T) {
	channel := make(chan logMsg, 1)
	writer := logWriter{channel: channel}

	_, err := writer.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)
	assert.Len(t, channel, 1)
	assert.Equal(t, logMsg("one"), <-channel)
}

func TestLogSinkHandler(t *testing.T) {
	sink := NewLogSink()
	logger := slog.New(sink.Handler(slog.LevelInfo))

	logger.Debug("hidden")
	logger.Info("page loaded", "page", 3)

	line := <-sink.channel
	assert.Contains(t, string(line), "page loaded")
	assert.Contains(t, string(line), "page=3")
	assert.Len(t, sink.channel, 0)
}

func TestPageRenderSizeFitsHeight(t *testing.T) {
	cols, rows := pageRenderSize(42, 20, 800, 1200)
	assert.Equal(t, 20, rows)
	assert.LessOrEqual(t, cols, 40)

	cols, rows = pageRenderSize(42, 40, 1200, 400)
	assert.Equal(t, 40, cols)
	assert.Less(t, rows, 40)

	cols, rows = pageRenderSize(42, 20, 0, 0)
	assert.Equal(t, 40, cols)
	assert.Equal(t, 20, rows)
}

func TestCoverRenderSizeBounds(t *testing.T) {
	cols, rows := coverRenderSize(30, 0, 0)
	assert.Equal(t, 28, cols)
	assert.Equal(t, 12, rows)

	_, rows = coverRenderSize(30, 100, 10000)
	assert.Equal(t, 24, rows)
}
