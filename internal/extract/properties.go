package extract

import (
	"bufio"
	"io"
	"strings"
)

// PropertyFunc parses document text into named properties. The default is
// ParseProperties; tests and future document layouts can substitute others.
type PropertyFunc func(r io.Reader) (map[string]string, error)

// ParseProperties scans line-oriented "Name: value" pairs out of document
// text. Planning decisions front-load a block of such fields; lines that do
// not match are prose and are ignored. A name repeated later in the document
// keeps its first value, which is the one from the header block.
func ParseProperties(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		// Long "names" are sentences that happen to contain a colon.
		if len(name) > 60 || strings.ContainsAny(name, ".;") {
			continue
		}
		if _, seen := props[name]; seen {
			continue
		}
		props[name] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return props, nil
}
