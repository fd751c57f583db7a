package aria2

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/viperadnan-git/medialoader/internal/core/engine"
)

// aria2 JSON-RPC request/response types

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type multicallEntry struct {
	MethodName string `json:"methodName"`
	Params     []any  `json:"params"`
}

// RPCError is an error object returned by aria2 itself.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("aria2 rpc error %d: %s", e.Code, e.Message)
}

// Unwrap classifies aria2 faults: unknown GIDs become ErrTransferNotFound,
// everything else ErrUnavailable.
func (e *RPCError) Unwrap() error {
	if strings.Contains(strings.ToLower(e.Message), "not found") {
		return engine.ErrTransferNotFound
	}
	return engine.ErrUnavailable
}

var statusKeys = []string{
	"gid", "status", "totalLength", "completedLength", "downloadSpeed",
	"dir", "files", "bittorrent", "followedBy", "seeder", "errorCode", "errorMessage",
}

type statusResponse struct {
	GID             string      `json:"gid"`
	Status          string      `json:"status"`
	TotalLength     string      `json:"totalLength"`
	CompletedLength string      `json:"completedLength"`
	DownloadSpeed   string      `json:"downloadSpeed"`
	ErrorCode       string      `json:"errorCode"`
	ErrorMessage    string      `json:"errorMessage"`
	Dir             string      `json:"dir"`
	Seeder          string      `json:"seeder"`
	BitTorrent      *btInfo     `json:"bittorrent"`
	Files           []fileEntry `json:"files"`
	FollowedBy      []string    `json:"followedBy"`
}

type btInfo struct {
	Info struct {
		Name string `json:"name"`
	} `json:"info"`
}

type fileEntry struct {
	Index  string `json:"index"`
	Path   string `json:"path"`
	Length string `json:"length"`
}

// displayName prefers the torrent name, then the first file on disk.
func (s *statusResponse) displayName() string {
	if s.BitTorrent != nil && s.BitTorrent.Info.Name != "" {
		return s.BitTorrent.Info.Name
	}
	for _, f := range s.Files {
		if f.Path != "" && !strings.HasPrefix(f.Path, "[METADATA]") {
			return filepath.Base(f.Path)
		}
	}
	return ""
}

// metadataOnly reports whether the transfer is a magnet's metadata fetch.
// Its progress says nothing about the payload.
func (s *statusResponse) metadataOnly() bool {
	if len(s.Files) == 0 {
		return false
	}
	for _, f := range s.Files {
		if !strings.HasPrefix(f.Path, "[METADATA]") {
			return false
		}
	}
	return true
}

// mapStatus maps aria2's status vocabulary onto normalized states. A removed
// transfer is gone; an errored one is reported as unavailable so the caller
// skips the tick instead of guessing.
func mapStatus(s *statusResponse) (engine.State, error) {
	switch s.Status {
	case "active":
		if s.Seeder == "true" {
			return engine.StateSeeding, nil
		}
		return engine.StateDownloading, nil
	case "waiting":
		return engine.StateDownloading, nil
	case "paused":
		return engine.StatePaused, nil
	case "complete":
		return engine.StateComplete, nil
	case "removed":
		return "", fmt.Errorf("gid %s removed: %w", s.GID, engine.ErrTransferNotFound)
	case "error":
		return "", fmt.Errorf("%w: gid %s errored (%s): %s", engine.ErrUnavailable, s.GID, s.ErrorCode, s.ErrorMessage)
	}
	return "", fmt.Errorf("%w: unknown aria2 status %q", engine.ErrUnavailable, s.Status)
}
