package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/user-provisioner/internal/api/dto"
	"github.com/cuongbtq/user-provisioner/internal/importer"
)

const uploadField = "file"

// ImportCore handles POST /api/v1/imports/core
// Schedules one user-creation job per row of the uploaded CSV
func (h *ImportHandler) ImportCore(c *gin.Context) {
	h.handle(c, "core")
}

// ImportMeta handles POST /api/v1/imports/meta
// Schedules one metadata-update job per row of the uploaded CSV
func (h *ImportHandler) ImportMeta(c *gin.Context) {
	h.handle(c, "meta")
}

func (h *ImportHandler) handle(c *gin.Context, kind string) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	fileHeader, err := c.FormFile(uploadField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "multipart field \"file\" is required"})
		return
	}

	// every other form field is an option, as on the command line
	opts := h.coreDefaults
	if kind == "meta" {
		opts = h.metaDefaults
	}
	if form := c.Request.MultipartForm; form != nil {
		for key, values := range form.Value {
			if len(values) == 0 {
				continue
			}
			if err := opts.Set(key, values[len(values)-1]); err != nil {
				c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
				return
			}
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to read upload"})
		return
	}
	defer file.Close()

	h.logger.Info("Import requested",
		slog.String("kind", kind),
		slog.String("filename", fileHeader.Filename),
		slog.Int64("size", fileHeader.Size),
		slog.Bool("dry_run", opts.DryRun),
	)

	var report *importer.Report
	if kind == "core" {
		report, err = h.importer.ImportCore(c.Request.Context(), file, opts)
	} else {
		report, err = h.importer.ImportMeta(c.Request.Context(), file, opts)
	}

	if err != nil {
		if isFileError(err) {
			c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("Import failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Import failed"})
		return
	}

	status := http.StatusAccepted
	if opts.DryRun {
		status = http.StatusOK
	}
	c.JSON(status, report)
}

// isFileError reports whether err describes a problem with the uploaded file itself
func isFileError(err error) bool {
	return errors.Is(err, importer.ErrEmptyCSV) ||
		errors.Is(err, importer.ErrNoHeader) ||
		errors.Is(err, importer.ErrIdentityColumnMissing) ||
		errors.Is(err, importer.ErrUnknownIDColumn)
}
