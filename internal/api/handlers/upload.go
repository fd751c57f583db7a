package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/api/response"
	"github.com/viperadnan-git/medialoader/internal/core/job"
	"github.com/viperadnan-git/medialoader/internal/core/orchestrator"
)

// MaxTorrentSize caps uploaded .torrent files.
const MaxTorrentSize = 4 << 20

// UploadTorrent accepts a multipart form with a "file" part plus optional
// "engine" and "kind" fields.
func (h *JobsHandler) UploadTorrent(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return response.Error(c, http.StatusBadRequest, "missing file field")
	}
	if fh.Size > MaxTorrentSize {
		return response.Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("torrent file exceeds %d bytes", MaxTorrentSize))
	}

	f, err := fh.Open()
	if err != nil {
		return response.Error(c, http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxTorrentSize+1))
	if err != nil {
		return response.Error(c, http.StatusBadRequest, err.Error())
	}

	j, err := h.svc.SubmitTorrentFile(c.Request().Context(), orchestrator.TorrentRequest{
		Filename: fh.Filename,
		Data:     data,
		Engine:   c.FormValue("engine"),
		Kind:     job.Kind(c.FormValue("kind")),
	})
	if err != nil {
		msg := err.Error()
		if j != nil {
			msg = fmt.Sprintf("job %s: %s", j.ID, msg)
		}
		log.Warn().Err(err).Str("filename", fh.Filename).Msg("torrent upload rejected")
		return response.Error(c, StatusFor(err), msg)
	}
	return response.Success(c, http.StatusCreated, j)
}
