package util

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidTorrent = errors.New("invalid torrent file")

// TorrentMeta is the subset of a .torrent file medialoader cares about.
type TorrentMeta struct {
	InfoHash string
	Name     string
	Announce string
}

// ParseTorrent walks the top-level bencoded dict of a .torrent file. The info
// hash is the SHA1 of the raw "info" value.
func ParseTorrent(data []byte) (TorrentMeta, error) {
	var meta TorrentMeta
	if len(data) == 0 || data[0] != 'd' {
		return meta, fmt.Errorf("%w: not a bencoded dict", ErrInvalidTorrent)
	}

	pos := 1
	for pos < len(data) && data[pos] != 'e' {
		key, next, err := BdecodeString(data, pos)
		if err != nil {
			return meta, fmt.Errorf("%w: %v", ErrInvalidTorrent, err)
		}
		valueStart := next
		end, err := BdecodeSkip(data, valueStart)
		if err != nil {
			return meta, fmt.Errorf("%w: %v", ErrInvalidTorrent, err)
		}

		switch key {
		case "info":
			meta.InfoHash = fmt.Sprintf("%x", sha1.Sum(data[valueStart:end]))
			meta.Name = dictString(data[valueStart:end], "name")
		case "announce":
			meta.Announce, _, _ = BdecodeString(data, valueStart)
		}
		pos = end
	}

	if meta.InfoHash == "" {
		return meta, fmt.Errorf("%w: missing info dict", ErrInvalidTorrent)
	}
	return meta, nil
}

// Magnet renders the torrent as a magnet URI with dn and tr when known.
func (m TorrentMeta) Magnet() string {
	magnet := "magnet:?xt=urn:btih:" + m.InfoHash
	if m.Name != "" {
		magnet += "&dn=" + url.QueryEscape(m.Name)
	}
	if m.Announce != "" {
		magnet += "&tr=" + url.QueryEscape(m.Announce)
	}
	return magnet
}

// MagnetName returns the dn parameter of a magnet URI, or "".
func MagnetName(uri string) string {
	if !strings.HasPrefix(strings.ToLower(uri), "magnet:?") {
		return ""
	}
	q, err := url.ParseQuery(uri[len("magnet:?"):])
	if err != nil {
		return ""
	}
	return q.Get("dn")
}

// dictString finds a string value by key in a bencoded dict.
func dictString(dict []byte, want string) string {
	if len(dict) == 0 || dict[0] != 'd' {
		return ""
	}
	pos := 1
	for pos < len(dict) && dict[pos] != 'e' {
		key, next, err := BdecodeString(dict, pos)
		if err != nil {
			return ""
		}
		if key == want {
			val, _, err := BdecodeString(dict, next)
			if err != nil {
				return ""
			}
			return val
		}
		pos, err = BdecodeSkip(dict, next)
		if err != nil {
			return ""
		}
	}
	return ""
}

// BdecodeString reads a bencode string (<length>:<data>) at pos.
func BdecodeString(data []byte, pos int) (string, int, error) {
	end := pos
	for end < len(data) && data[end] != ':' {
		if data[end] < '0' || data[end] > '9' {
			return "", 0, fmt.Errorf("invalid string length at %d", pos)
		}
		end++
	}
	if end >= len(data) || end == pos {
		return "", 0, fmt.Errorf("unterminated string at %d", pos)
	}

	length := 0
	for i := pos; i < end; i++ {
		length = length*10 + int(data[i]-'0')
		if length > len(data) {
			return "", 0, fmt.Errorf("string overflow at %d", pos)
		}
	}

	start := end + 1
	if start+length > len(data) {
		return "", 0, fmt.Errorf("string overflow at %d", pos)
	}
	return string(data[start : start+length]), start + length, nil
}

// BdecodeSkip returns the offset just past the bencode value at pos.
func BdecodeSkip(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return 0, fmt.Errorf("unexpected end at %d", pos)
	}

	switch data[pos] {
	case 'i':
		pos++
		for pos < len(data) && data[pos] != 'e' {
			pos++
		}
		if pos >= len(data) {
			return 0, errors.New("unterminated integer")
		}
		return pos + 1, nil

	case 'l', 'd':
		pos++
		for pos < len(data) && data[pos] != 'e' {
			next, err := BdecodeSkip(data, pos)
			if err != nil {
				return 0, err
			}
			pos = next
		}
		if pos >= len(data) {
			return 0, errors.New("unterminated list or dict")
		}
		return pos + 1, nil

	default:
		_, next, err := BdecodeString(data, pos)
		return next, err
	}
}
