package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/neuhoffm/firecms/internal/storage"
)

var errNoBlobStore = errors.New("blob store not configured")

// uploadFile: POST /api/files, multipart: file, path (каталог), name,
// metadata (JSON-объект строк). Ответ — результат загрузки и ссылка.
func (s *Server) uploadFile(c *gin.Context) {
	ctx := c.Request.Context()
	if s.Files == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errNoBlobStore.Error()})
		return
	}
	file, hdr, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart file not found (field name 'file')"})
		return
	}
	defer file.Close()

	meta := map[string]string{}
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid metadata", "details": err.Error()})
			return
		}
	}
	if _, ok := meta["contentType"]; !ok {
		if ct := hdr.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
			meta["contentType"] = ct
		}
	}
	name := c.PostForm("name")
	if name == "" {
		name = hdr.Filename
	}

	res, err := s.Files.UploadFile(ctx, file, name, c.PostForm("path"), meta)
	if err != nil {
		writeError(c, fmt.Errorf("upload: %w", err))
		return
	}
	url, err := s.Files.DownloadURL(ctx, res.Path)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"file": res, "url": url})
}

// fileURL: GET /api/files/url?path=... — ссылка на скачивание.
func (s *Server) fileURL(c *gin.Context) {
	if s.Files == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errNoBlobStore.Error()})
		return
	}
	p := c.Query("path")
	if p == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	url, err := s.Files.DownloadURL(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": p, "url": url})
}

// serveFile: GET /files/*key — содержимое файла из хранилища.
func (s *Server) serveFile(c *gin.Context) {
	if s.Files == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	rc, err := s.Files.Store().Open(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, ct, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="%s"`, storage.SafeName(key)),
	})
}
