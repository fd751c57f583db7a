package util

import (
	"crypto/sha1"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInfo = "d6:lengthi1024e4:name14:Movie.2020.mkv12:piece lengthi16384ee"

func sampleTorrent() []byte {
	return []byte("d8:announce21:udp://tr.example:13374:info" + sampleInfo + "e")
}

func TestParseTorrent(t *testing.T) {
	meta, err := ParseTorrent(sampleTorrent())
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%x", sha1.Sum([]byte(sampleInfo))), meta.InfoHash)
	assert.Equal(t, "Movie.2020.mkv", meta.Name)
	assert.Equal(t, "udp://tr.example:1337", meta.Announce)

	magnet := meta.Magnet()
	assert.Contains(t, magnet, "magnet:?xt=urn:btih:"+meta.InfoHash)
	assert.Equal(t, "Movie.2020.mkv", MagnetName(magnet))
}

func TestParseTorrentRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not a torrent", "d4:infoe", "d8:announce3:abce", "d4:info5:abc"} {
		_, err := ParseTorrent([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidTorrent, in)
	}
}

func TestMagnetName(t *testing.T) {
	assert.Equal(t, "Some Show S01", MagnetName("magnet:?xt=urn:btih:abc&dn=Some+Show+S01"))
	assert.Equal(t, "", MagnetName("magnet:?xt=urn:btih:abc"))
	assert.Equal(t, "", MagnetName("https://example.com/?dn=x"))
}
