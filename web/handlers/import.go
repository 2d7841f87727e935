package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	apperrors "graph-ingest/errors"
	"graph-ingest/pipeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Importer runs one ingestion run.
type Importer interface {
	Run(ctx context.Context, params pipeline.Params, progress pipeline.Progress) (*pipeline.Report, error)
}

type ImportHandler struct {
	importer Importer
	logger   *zap.Logger
}

func NewImportHandler(importer Importer, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{
		importer: importer,
		logger:   logger,
	}
}

type forumRequest struct {
	Tag       string `json:"tag" binding:"omitempty,max=64"`
	NumPages  int    `json:"num_pages" binding:"gte=0,lte=250"`
	StartPage int    `json:"start_page" binding:"gte=0"`
}

type lawsRequest struct {
	From int64 `json:"from" binding:"gte=0"`
	To   int64 `json:"to" binding:"gte=0"`
}

// Forum imports pages of tagged questions.
func (h *ImportHandler) Forum(c *gin.Context) {
	var req forumRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.run(c, pipeline.Params{
		Source:    pipeline.SourceForum,
		Tag:       req.Tag,
		NumPages:  req.NumPages,
		StartPage: req.StartPage,
	})
}

// Top imports the highest voted questions.
func (h *ImportHandler) Top(c *gin.Context) {
	h.run(c, pipeline.Params{Source: pipeline.SourceTop})
}

// Laws imports a range of legislative ids.
func (h *ImportHandler) Laws(c *gin.Context) {
	var req lawsRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.run(c, pipeline.Params{
		Source:  pipeline.SourceLaws,
		LawFrom: req.From,
		LawTo:   req.To,
	})
}

// run answers 200 when every unit succeeded, 207 when some failed and 500
// when a fatal error stopped the run.
func (h *ImportHandler) run(c *gin.Context, params pipeline.Params) {
	report, err := h.importer.Run(c.Request.Context(), params, nil)
	switch {
	case apperrors.IsInvalidInput(err):
		respondWithClientError(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		if report == nil {
			respondWithError(c, http.StatusInternalServerError, err, "Import failed", h.logger,
				zap.String("source", string(params.Source)))
			return
		}
		h.logger.Error("Import aborted",
			zap.String("source", string(params.Source)),
			zap.String("run_id", report.RunID.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, report)
		return
	}

	status := http.StatusOK
	if !report.Success {
		status = http.StatusMultiStatus
	}
	c.JSON(status, report)
}

// bindOptionalJSON decodes the body into req when there is one. It writes a
// 400 and returns false on malformed input.
func bindOptionalJSON(c *gin.Context, req any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		respondWithClientError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
