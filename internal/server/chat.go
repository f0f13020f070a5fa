package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ragworks/docqa/config"
	"github.com/ragworks/docqa/internal/answer"
	"github.com/ragworks/docqa/internal/retrieval"
	"github.com/ragworks/docqa/internal/session"
)

// Answerer runs the question-answering flow.
type Answerer interface {
	Answer(ctx context.Context, question, tag string, history []answer.Turn) answer.Response
}

// Searcher runs raw retrieval.
type Searcher interface {
	Retrieve(ctx context.Context, query, tag string, topK int, threshold float64) ([]retrieval.Result, error)
}

// ChatHandler serves question answering and raw retrieval.
type ChatHandler struct {
	Orchestrator Answerer
	Engine       Searcher
	Sessions     session.Store
	Ingestion    config.IngestionConfig
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
	g.POST("/retrieve", h.retrieve)
}

// chat always answers 200; failures inside the orchestrator surface as
// degraded answer text, not HTTP errors.
func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Tag != "" && !h.Ingestion.TagAllowed(req.Tag) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("tag must be one of %v", h.Ingestion.AllowedTags))
	}
	chatTotal.Inc()

	ctx := c.Request().Context()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = session.NewID()
	}
	var history []answer.Turn
	if h.Sessions != nil {
		var err error
		if history, err = h.Sessions.History(ctx, sessionID); err != nil {
			// history is an enhancement, the question still gets answered
			history = nil
		}
	}

	resp := h.Orchestrator.Answer(ctx, req.Question, req.Tag, history)

	if h.Sessions != nil && resp.Confidence > 0 {
		_ = h.Sessions.Append(ctx, sessionID,
			answer.Turn{Role: "user", Content: req.Question},
			answer.Turn{Role: "assistant", Content: resp.Answer},
		)
	}

	return c.JSON(http.StatusOK, ChatResponse{
		Answer:     resp.Answer,
		Sources:    resp.Sources,
		Confidence: resp.Confidence,
		SessionID:  sessionID,
	})
}

func (h *ChatHandler) retrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.Tag != "" && !h.Ingestion.TagAllowed(req.Tag) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("tag must be one of %v", h.Ingestion.AllowedTags))
	}

	results, err := h.Engine.Retrieve(c.Request().Context(), req.Query, req.Tag, req.TopK, req.Threshold)
	if err != nil {
		retrieveTotal.WithLabelValues("failure").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	retrieveTotal.WithLabelValues("success").Inc()
	if results == nil {
		results = []retrieval.Result{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}
