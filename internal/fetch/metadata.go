package fetch

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"time"
)

// PDF metadata lives near the end of the file, but some writers place the
// Info dictionary up front, so scan the whole document up to a sane cap.
const creationDateScanLimit = 4 << 20

var creationDateRe = regexp.MustCompile(`/CreationDate\s*\(D:(\d{14})`)

// pdfCreationDate extracts the /CreationDate entry from a PDF's metadata.
// Many municipal documents carry no Published date on their record link; the
// embedded creation timestamp is the best available substitute.
func pdfCreationDate(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, creationDateScanLimit))
	if err != nil {
		return time.Time{}, false
	}

	if !bytes.HasPrefix(buf, []byte("%PDF")) {
		return time.Time{}, false
	}
	m := creationDateRe.FindSubmatch(buf)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102150405", string(m[1]))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
