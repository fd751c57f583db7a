package postprocess

import (
	"path/filepath"
	"strings"

	"github.com/moistari/rls"
)

// Meta is what can be guessed about a release from its file name alone.
type Meta struct {
	Title   string
	Year    int
	Season  int
	Episode int
}

// ParseMeta guesses title, year, season and episode from a file name. Only
// the base name is considered; container contents are never inspected.
func ParseMeta(filename string) Meta {
	base := filepath.Base(filename)
	r := rls.ParseString(base)

	return Meta{
		Title:   strings.TrimSpace(r.Title),
		Year:    r.Year,
		Season:  r.Series,
		Episode: r.Episode,
	}
}
