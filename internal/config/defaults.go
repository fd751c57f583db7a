package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"data_dir": "/data",

		"server.host": "0.0.0.0",
		"server.port": 8080,

		"database.driver":          "sqlite",
		"database.max_connections": 10,

		"engines.aria2.enabled":    true,
		"engines.aria2.rpc_url":    "http://localhost:6800/jsonrpc",
		"engines.aria2.rpc_secret": "",
		"engines.aria2.managed":    false,
		"engines.aria2.rpc_port":   6800,
		"engines.aria2.trackers":   true,

		"engines.transmission.enabled": false,
		"engines.transmission.rpc_url": "http://localhost:9091/transmission/rpc",

		"library.movies_dir":       "movies",
		"library.tv_dir":           "tvshows",
		"library.video_extensions": []string{".mkv", ".mp4"},

		"orchestrator.poll_interval": "2s",
		"broadcaster.interval":       "2s",

		"tmdb.enabled":        true,
		"tmdb.base_url":       "https://api.themoviedb.org/3",
		"tmdb.image_base_url": "https://image.tmdb.org/t/p",
		"tmdb.image_size":     "w780",

		"subtitles.enabled":    true,
		"subtitles.base_url":   "https://api.opensubtitles.com/api/v1",
		"subtitles.user_agent": "medialoader v1",
		"subtitles.language":   "en",

		"jellyfin.enabled": true,

		"logging.level":  "info",
		"logging.format": "pretty",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
	return nil
}
