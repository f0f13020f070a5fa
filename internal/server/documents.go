package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ragworks/docqa/config"
	"github.com/ragworks/docqa/internal/ingest"
	"github.com/ragworks/docqa/internal/store"
)

// Ingester is the pipeline surface the documents handler drives.
type Ingester interface {
	Ingest(ctx context.Context, filename, tag, uploadedBy string, data []byte) (ingest.Result, error)
	Delete(ctx context.Context, documentID int64) (bool, error)
}

// DocumentsHandler serves upload, catalog and delete.
type DocumentsHandler struct {
	Pipeline  Ingester
	Store     *store.Store
	Ingestion config.IngestionConfig
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.POST("/ingest", h.upload)
	g.GET("/documents", h.list)
	g.DELETE("/documents/:id", h.remove)
}

func (h *DocumentsHandler) upload(c echo.Context) error {
	tag := c.FormValue("tag")
	if !h.Ingestion.TagAllowed(tag) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("tag must be one of %v", h.Ingestion.AllowedTags))
	}
	uploadedBy := c.FormValue("uploaded_by")
	if uploadedBy == "" {
		uploadedBy = "anonymous"
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	// one byte past the limit is enough to prove the file is too large
	data, err := io.ReadAll(io.LimitReader(f, int64(h.Ingestion.MaxFileSizeBytes())+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.Pipeline.Ingest(c.Request().Context(), fileHeader.Filename, tag, uploadedBy, data)
	if err != nil {
		ingestTotal.WithLabelValues("failure").Inc()
		var ingErr *ingest.Error
		if errors.As(err, &ingErr) {
			if ingErr.Duplicate {
				return echo.NewHTTPError(http.StatusBadRequest,
					fmt.Sprintf("document already exists (id %d)", ingErr.ExistingID))
			}
			if ingErr.Stage == ingest.StageValidate || ingErr.Stage == ingest.StageExtract {
				return echo.NewHTTPError(http.StatusBadRequest, ingErr.Err.Error())
			}
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ingestTotal.WithLabelValues("success").Inc()
	return c.JSON(http.StatusCreated, IngestResponse{
		DocumentID: res.DocumentID,
		Filename:   res.Filename,
		Tag:        res.Tag,
		Uploader:   res.Uploader,
		PageCount:  res.PageCount,
		ChunkCount: res.ChunkCount,
		Status:     res.Status,
	})
}

func (h *DocumentsHandler) list(c echo.Context) error {
	tag := c.QueryParam("tag")
	if tag != "" && !h.Ingestion.TagAllowed(tag) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("tag must be one of %v", h.Ingestion.AllowedTags))
	}
	docs, err := h.Store.ListDocuments(c.Request().Context(), tag)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = DocumentResponse{
			ID:         d.ID,
			Filename:   d.Filename,
			Tag:        d.Tag,
			UploadedBy: d.UploadedBy,
			PageCount:  d.PageCount,
			CreatedAt:  d.CreatedAt.Format(time.RFC3339),
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *DocumentsHandler) remove(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	ok, err := h.Pipeline.Delete(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return c.NoContent(http.StatusNoContent)
}
