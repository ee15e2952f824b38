package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardvault/valuation-engine/internal/config"
	"github.com/cardvault/valuation-engine/internal/orchestrator"
	"github.com/cardvault/valuation-engine/internal/store"
	"github.com/cardvault/valuation-engine/pkg/models"
)

// extByMimeType maps a configured allowed MIME type to the file extension
// used for the presigned object key. A MIME type without an explicit entry
// falls back to its subtype (e.g. "image/avif" -> "avif").
var extByMimeType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

func extForMimeType(mimeType string) string {
	if ext, ok := extByMimeType[mimeType]; ok {
		return ext
	}
	if _, subtype, ok := strings.Cut(mimeType, "/"); ok {
		return subtype
	}
	return mimeType
}

func contains(values []string, v string) bool {
	for _, c := range values {
		if c == v {
			return true
		}
	}
	return false
}

// Handler implements the C10 request gateway (§4.9) over a Gin router.
type Handler struct {
	store        *store.Store
	executions   *store.ExecutionStore
	presigner    *s3.PresignClient
	orchestrator *orchestrator.Orchestrator
	hub          *Hub
	cfg          config.Config
	log          zerolog.Logger
}

func NewHandler(st *store.Store, executions *store.ExecutionStore, presigner *s3.PresignClient, orch *orchestrator.Orchestrator, hub *Hub, cfg config.Config, log zerolog.Logger) *Handler {
	return &Handler{store: st, executions: executions, presigner: presigner, orchestrator: orch, hub: hub, cfg: cfg, log: log.With().Str("component", "gateway").Logger()}
}

// presignUploadRequest is POST /upload/presign's body.
type presignUploadRequest struct {
	ContentType string `json:"contentType"`
	FileExt     string `json:"fileExt"`
	SizeBytes   int64  `json:"sizeBytes"`
}

func (h *Handler) presignUpload(c *gin.Context) {
	var req presignUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProblem(c, http.StatusBadRequest, "validation-error", "invalid request body")
		return
	}

	if !contains(h.cfg.AllowedMimeTypes, req.ContentType) {
		writeProblem(c, http.StatusUnsupportedMediaType, "unsupported-media-type", "contentType must be one of "+strings.Join(h.cfg.AllowedMimeTypes, ","))
		return
	}
	ext := extForMimeType(req.ContentType)
	if req.SizeBytes <= 0 || req.SizeBytes > h.cfg.MaxUploadBytes {
		writeProblem(c, http.StatusRequestEntityTooLarge, "payload-too-large", fmt.Sprintf("sizeBytes must be in (0, %d]", h.cfg.MaxUploadBytes))
		return
	}

	subject := SubjectFromContext(c)
	key := fmt.Sprintf("uploads/%s/%s.%s", subject, uuid.NewString(), ext)

	presigned, err := h.presigner.PresignPutObject(c.Request.Context(), &s3.PutObjectInput{
		Bucket:      aws.String(h.cfg.CardAssetBucket),
		Key:         aws.String(key),
		ContentType: aws.String(req.ContentType),
	}, s3.WithPresignExpires(h.cfg.PresignTTL()))
	if err != nil {
		writeProblem(c, http.StatusInternalServerError, "data-layer-error", "failed to presign upload URL")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"uploadUrl":    presigned.URL,
		"key":          key,
		"expiresInSec": h.cfg.PresignTTLSeconds,
	})
}

type createCardRequest struct {
	FrontKey    string                     `json:"frontKey"`
	BackKey     string                     `json:"backKey,omitempty"`
	Descriptors *models.ExpectedAttributes `json:"descriptors,omitempty"`
}

func (h *Handler) createCard(c *gin.Context) {
	var req createCardRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FrontKey == "" {
		writeProblem(c, http.StatusBadRequest, "validation-error", "frontKey is required")
		return
	}

	subject := SubjectFromContext(c)
	now := time.Now().UTC()
	card := models.Card{
		CardID:    uuid.NewString(),
		Subject:   subject,
		FrontKey:  req.FrontKey,
		BackKey:   req.BackKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Descriptors != nil {
		card.Name = req.Descriptors.Name
		card.Set = req.Descriptors.Set
		card.Number = req.Descriptors.Number
		card.Rarity = req.Descriptors.Rarity
	}

	if err := h.store.PutCard(c.Request.Context(), card); err != nil {
		writeProblem(c, http.StatusInternalServerError, "data-layer-error", err.Error())
		return
	}

	c.JSON(http.StatusCreated, card)
}

func (h *Handler) listCards(c *gin.Context) {
	subject := SubjectFromContext(c)
	cursor := c.Query("cursor")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	cards, nextCursor, err := h.store.ListCardsPage(c.Request.Context(), subject, cursor, limit)
	if err != nil {
		writeProblem(c, http.StatusInternalServerError, "data-layer-error", err.Error())
		return
	}

	resp := gin.H{"items": cards}
	if nextCursor != "" {
		resp["nextCursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getCard(c *gin.Context) {
	subject := SubjectFromContext(c)
	cardID := c.Param("id")

	card, err := h.store.GetCard(c.Request.Context(), subject, cardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(c, http.StatusNotFound, "not-found", "card not found")
			return
		}
		writeProblem(c, http.StatusInternalServerError, "data-layer-error", err.Error())
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) deleteCard(c *gin.Context) {
	subject := SubjectFromContext(c)
	cardID := c.Param("id")

	if _, err := h.store.GetCard(c.Request.Context(), subject, cardID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(c, http.StatusNotFound, "not-found", "card not found")
			return
		}
		writeProblem(c, http.StatusInternalServerError, "data-layer-error", err.Error())
		return
	}

	if err := h.store.DeleteCard(c.Request.Context(), subject, cardID); err != nil {
		writeProblem(c, http.StatusInternalServerError, "data-layer-error", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

type revalueRequest struct {
	WindowDays int `json:"windowDays,omitempty"`
}

func (h *Handler) revalue(c *gin.Context) {
	subject := SubjectFromContext(c)
	cardID := c.Param("id")

	var req revalueRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	card, err := h.store.GetCard(c.Request.Context(), subject, cardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(c, http.StatusNotFound, "not-found", "card not found")
			return
		}
		writeProblem(c, http.StatusInternalServerError, "data-layer-error", err.Error())
		return
	}

	windowDays := req.WindowDays
	if windowDays <= 0 {
		windowDays = h.cfg.RevalueWhenDays
		if windowDays <= 0 {
			windowDays = 30
		}
	}

	expected := &models.ExpectedAttributes{Name: card.Name, Rarity: card.Rarity, Set: card.Set, Number: card.Number}

	executionID := uuid.NewString()
	now := time.Now().UTC()
	lockErr := h.store.CreateRevalueLock(c.Request.Context(), models.RevalueLock{
		Subject: subject, CardID: cardID, ExecutionID: executionID,
		CreatedAt: now, ExpiresAt: now.Add(h.cfg.ExecutionHardDeadline()),
	})
	if lockErr != nil {
		if errors.Is(lockErr, store.ErrConflict) {
			writeProblem(c, http.StatusConflict, "conflict/in-progress", "a revalue for this card is already in progress")
			return
		}
		writeProblem(c, http.StatusInternalServerError, "data-layer-error", lockErr.Error())
		return
	}

	go func() {
		// The hard deadline is owned by Run itself; detach from the
		// request's context so the execution survives the HTTP response.
		ctx := context.Background()
		_, err := h.orchestrator.Run(ctx, orchestrator.Input{
			ExecutionID: executionID,
			Subject: subject, CardID: cardID, FrontKey: card.FrontKey, BackKey: card.BackKey,
			Expected: expected, WindowDays: windowDays,
		})
		if err != nil {
			h.log.Error().Err(err).Str("cardId", cardID).Str("executionId", executionID).Msg("execution failed")
		}
		if clearErr := h.store.ClearRevalueLock(context.Background(), subject, cardID); clearErr != nil {
			h.log.Error().Err(clearErr).Str("cardId", cardID).Str("executionId", executionID).Msg("failed to clear revalue lock")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"executionId": executionID, "status": "QUEUED"})
}

func (h *Handler) getExecution(c *gin.Context) {
	subject := SubjectFromContext(c)
	executionID := c.Param("id")

	rec, err := h.executions.Get(c.Request.Context(), subject, executionID)
	if err != nil {
		writeProblem(c, http.StatusNotFound, "not-found", "execution record not found")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "operational"})
}
