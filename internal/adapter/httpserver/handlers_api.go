package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/credpulse/internal/domain"
	apperrors "github.com/pscheid92/credpulse/internal/platform/errors"
)

type voteRequest struct {
	UserID string `json:"user_id"`
	Choice string `json:"choice"`
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api")
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/stories/:id/analysis", s.handleStoryAnalysis)
	api.GET("/stories/:id/tally", s.handleTally)
	api.GET("/stories/:id/votes/:user_id", s.handleVoteRecord)
	api.POST("/stories/:id/votes", s.handleCastVote,
		newRateLimiter(s.config.VoteRateLimit, s.config.VoteRateBurst, s.httpMetrics))
}

// handleAnalyze scores a story supplied by the caller without touching the store.
// The status is matched case-insensitively, like everywhere else.
func (s *Server) handleAnalyze(c echo.Context) error {
	var story domain.Story
	if err := c.Bind(&story); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if status, err := domain.ParseVerificationStatus(string(story.Status)); err == nil {
		story.Status = status
	}

	result, err := s.app.Analyze(story)
	if err != nil {
		return withStory(mapDomainError(err), story.ID)
	}

	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStoryAnalysis(c echo.Context) error {
	storyID := c.Param("id")

	result, err := s.app.AnalyzeStory(c.Request().Context(), storyID)
	if err != nil {
		return withStory(mapDomainError(err), storyID)
	}

	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCastVote(c echo.Context) error {
	storyID := c.Param("id")

	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").WithField("story_id", storyID)
	}

	choice, err := domain.ParseVoteChoice(req.Choice)
	if err != nil {
		return apperrors.ValidationError(err.Error()).WithField("story_id", storyID)
	}

	outcome, err := s.app.CastVote(c.Request().Context(), req.UserID, storyID, choice)
	if err != nil && outcome.Record.UserID != "" {
		// The vote is stored; only the follow-up analysis failed.
		return apperrors.InternalError("vote recorded but story could not be analyzed", err).
			WithField("story_id", storyID).
			WithField("tally", outcome.Tally)
	}
	if err != nil {
		return withStory(mapDomainError(err), storyID).WithField("user_id", req.UserID)
	}

	if err := c.JSON(http.StatusCreated, outcome); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleTally(c echo.Context) error {
	storyID := c.Param("id")

	tally, err := s.votes.Tally(c.Request().Context(), storyID)
	if err != nil {
		return withStory(mapDomainError(err), storyID)
	}

	response := map[string]any{
		"story_id": storyID,
		"votes":    tally,
		"total":    tally.Total(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVoteRecord(c echo.Context) error {
	storyID := c.Param("id")
	userID := c.Param("user_id")

	record, err := s.votes.LookupVote(c.Request().Context(), userID, storyID)
	if err != nil {
		return withStory(mapDomainError(err), storyID).WithField("user_id", userID)
	}

	if err := c.JSON(http.StatusOK, record); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func withStory(err *apperrors.Error, storyID string) *apperrors.Error {
	if storyID == "" {
		return err
	}
	return err.WithField("story_id", storyID)
}
