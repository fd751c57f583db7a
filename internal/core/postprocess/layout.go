package postprocess

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/viperadnan-git/medialoader/internal/core/job"
)

const (
	unknownMovie = "Unknown"
	unknownShow  = "Unknown Show"
	posterName   = "poster.jpg"
)

// Layout describes the library tree under the media root.
type Layout struct {
	Root      string
	MoviesDir string
	TVDir     string
}

// Target is where one media file lands in the library.
type Target struct {
	Folder string // directory holding the media file
	File   string // full destination path
	Poster string // poster.jpg location
}

// Destination builds the canonical location for filename:
//
//	movies/<Title> (<Year>)/<filename>
//	tvshows/<Show>/Season NN/<filename>
//
// Show posters live beside the season folders.
func (l Layout) Destination(kind job.Kind, meta Meta, filename string) Target {
	name := filepath.Base(filename)

	if kind == job.KindTV {
		show := safeName(meta.Title, unknownShow)
		season := meta.Season
		if season <= 0 {
			season = 1
		}
		showDir := filepath.Join(l.Root, l.TVDir, show)
		folder := filepath.Join(showDir, fmt.Sprintf("Season %02d", season))
		return Target{
			Folder: folder,
			File:   filepath.Join(folder, name),
			Poster: filepath.Join(showDir, posterName),
		}
	}

	title := safeName(meta.Title, unknownMovie)
	if meta.Year > 0 {
		title = fmt.Sprintf("%s (%d)", title, meta.Year)
	}
	folder := filepath.Join(l.Root, l.MoviesDir, title)
	return Target{
		Folder: folder,
		File:   filepath.Join(folder, name),
		Poster: filepath.Join(folder, posterName),
	}
}

// safeName keeps a title usable as a single path element.
func safeName(s, fallback string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}
