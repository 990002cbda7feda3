package reader

type PageStatus int

const (
	PageLoading PageStatus = iota
	PageRemote
	PageNotFound
)

func (status PageStatus) String() string {
	switch status {
	case PageLoading:
		return "loading"
	case PageRemote:
		return "remote"
	case PageNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Page is one image slot in a chapter. URL is unique within the chapter.
type Page struct {
	URL      string
	Position int
	Status   PageStatus
	Data     []byte
	Err      error
}

func (page Page) Terminal() bool {
	return page.Status == PageRemote || page.Status == PageNotFound
}

// mergePage resolves a result landing on an existing slot. A page holding
// bytes is only ever replaced by fresher bytes.
func mergePage(existing, incoming Page) Page {
	if existing.Status == PageRemote && incoming.Status != PageRemote {
		return existing
	}
	return incoming
}
