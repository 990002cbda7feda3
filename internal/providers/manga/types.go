package manga

import (
	"errors"
	"fmt"
)

type SearchResult struct {
	ID       string
	Title    string
	CoverURL string
}

// Chapter is the reference a source delegate turns into download info.
// URL is only meaningful for sources that address chapters by page URL.
type Chapter struct {
	ID             string
	MangaID        string
	Number         string
	Title          string
	Volume         string
	URL            string
	NumericChapter float64
}

var (
	ErrChapterMetadataMissing = errors.New("chapter metadata missing")
	ErrChapterNoPages         = errors.New("chapter has no pages")
	ErrPageOutOfRange         = errors.New("page index out of bounds")
)

func FormatChapterLabel(chapter Chapter) string {
	label := "Chapter"
	if chapter.Number != "" {
		label = fmt.Sprintf("Chapter %s", chapter.Number)
	}
	if chapter.Title != "" {
		label = fmt.Sprintf("%s - %s", label, chapter.Title)
	}
	if chapter.Volume != "" {
		label = fmt.Sprintf("Volume %s, %s", chapter.Volume, label)
	}
	return label
}
