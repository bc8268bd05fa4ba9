package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

type useFeatureRequest struct {
	AttemptID string         `json:"attempt_id"`
	Metadata  map[string]any `json:"metadata"`
}

type useFeatureResponse struct {
	Granted   bool                     `json:"granted"`
	Replayed  bool                     `json:"replayed,omitempty"`
	Usage     quotadomain.FeatureUsage `json:"usage"`
	AttemptID string                   `json:"attempt_id"`
}

type attemptResponse struct {
	AttemptID string `json:"attempt_id"`
	Landed    bool   `json:"landed"`
}

func (s *Server) ListUsage(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.quotaSvc.ListUsage(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetUsage(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	usage, err := s.quotaSvc.GetUsage(c.Request.Context(), userID, c.Param("feature_key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, usage)
}

// UseFeature answers 200 for both outcomes; a denial is reported in the body.
func (s *Server) UseFeature(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	// The body is optional; an empty one arrives as io.EOF whatever its framing.
	var req useFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.quotaSvc.RecordUseAttempt(c.Request.Context(), userID, c.Param("feature_key"), req.AttemptID, req.Metadata)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, useFeatureResponse{
		Granted:   result.Granted(),
		Replayed:  result.Replayed,
		Usage:     result.Usage,
		AttemptID: result.AttemptID,
	})
}

// GetAttempt tells a caller whether an ambiguous use was charged.
func (s *Server) GetAttempt(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	attemptID := c.Param("attempt_id")
	landed, err := s.quotaSvc.AttemptLanded(c.Request.Context(), userID, c.Param("feature_key"), attemptID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, attemptResponse{AttemptID: attemptID, Landed: landed})
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.PageToken = strings.TrimSpace(query.PageToken)

	resp, err := s.quotaSvc.ListEvents(c.Request.Context(), quotadomain.ListEventsRequest{
		UserID:     userID,
		FeatureKey: c.Param("feature_key"),
		Pagination: query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
