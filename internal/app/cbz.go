package app

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// CreateCBZ zips pages in order. Entry extensions follow the sniffed image
// type so readers that trust the name open them correctly.
func CreateCBZ(chapterName string, images [][]byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	zipWriter := zip.NewWriter(buf)
	modified := time.Now()

	for i, imgData := range images {
		fileName := fmt.Sprintf("%s_page_%03d%s", chapterName, i+1, imageExtension(imgData))
		writer, err := zipWriter.CreateHeader(&zip.FileHeader{
			Name:     fileName,
			Method:   zip.Store,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating zip entry %s: %w", fileName, err)
		}
		if _, err := writer.Write(imgData); err != nil {
			return nil, fmt.Errorf("error writing image data for %s: %w", fileName, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing zip writer: %w", err)
	}
	if len(images) == 0 {
		return nil, errors.New("created CBZ file is empty")
	}
	return buf.Bytes(), nil
}

func imageExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func SanitizeFileName(name string) string {
	trimmed := strings.TrimSpace(name)
	trimmed = strings.ReplaceAll(trimmed, "/", "-")
	trimmed = strings.ReplaceAll(trimmed, "\\", "-")
	trimmed = strings.Map(func(r rune) rune {
		switch r {
		case ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		return r
	}, trimmed)
	trimmed = strings.Trim(trimmed, ". ")
	if trimmed == "" {
		return "untitled"
	}
	return filepath.Clean(trimmed)
}
