package extract

import "strings"

// Handle normalizes an attribute name into its stable lookup key: lowercase,
// with runs of whitespace collapsed to single underscores. "Lot Size" and
// "lot  size" share the handle "lot_size".
func Handle(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}
