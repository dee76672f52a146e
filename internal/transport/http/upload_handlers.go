package http

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxUploadSize caps attachment uploads at 25 MiB.
const maxUploadSize = 25 << 20

// UploadHandlers stores uploaded media and hands back a durable URL that
// a chatMessage attachment can reference.
type UploadHandlers struct {
	dir     string
	baseURL string
	log     *zerolog.Logger
}

// NewUploadHandlers creates the upload handlers, making sure the target
// directory exists.
func NewUploadHandlers(dir, baseURL string, logger *zerolog.Logger) (*UploadHandlers, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadHandlers{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     logger,
	}, nil
}

// UploadResponse describes a stored attachment.
type UploadResponse struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// Upload accepts one multipart file and stores it under a uuid-prefixed
// name so client filenames never collide or escape the upload directory.
// POST /api/upload
func (h *UploadHandlers) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
		return
	}

	name := uuid.NewString() + "-" + filepath.Base(file.Filename)
	dst := filepath.Join(h.dir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.log.Error().Err(err).Str("file", name).Msg("failed to store upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	kind := detectKind(dst)
	url := h.baseURL + "/uploads/" + name

	h.log.Info().
		Str("user", c.GetString(ContextKeyUsername)).
		Str("file", name).
		Str("kind", kind).
		Msg("attachment stored")

	c.JSON(http.StatusOK, UploadResponse{URL: url, Kind: kind})
}

// detectKind sniffs the stored file's media type and maps it onto the
// attachment kinds the clients render.
func detectKind(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "file"
	}
	switch {
	case strings.HasPrefix(mtype.String(), "image/"):
		return "image"
	case strings.HasPrefix(mtype.String(), "video/"):
		return "video"
	case strings.HasPrefix(mtype.String(), "audio/"):
		return "audio"
	default:
		return "file"
	}
}
