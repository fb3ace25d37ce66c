package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/doc-uploader/internal/domain"
	"github.com/kursadbilgin/doc-uploader/internal/intake"
	"github.com/kursadbilgin/doc-uploader/internal/observability"
	"github.com/kursadbilgin/doc-uploader/internal/progress"
	"github.com/kursadbilgin/doc-uploader/internal/provider"
	"github.com/kursadbilgin/doc-uploader/internal/service"
)

const (
	filesFormField        = "files"
	defaultMaxUploadBytes = 50 << 20
)

type UploadService interface {
	ListCollections(ctx context.Context) ([]domain.Collection, error)
	CreateBatch(ctx context.Context, collectionName string) (*service.BatchView, error)
	SetCollection(ctx context.Context, batchID string, collectionName string) (*service.BatchView, error)
	AddFiles(ctx context.Context, batchID string, files []domain.FileHandle) (*service.BatchView, intake.Result, error)
	RemoveFile(ctx context.Context, batchID string, index int) (*service.BatchView, error)
	Discard(ctx context.Context, batchID string) error
	Start(ctx context.Context, batchID string) (*service.BatchView, error)
	Get(ctx context.Context, batchID string) (*service.BatchView, error)
	RetryFailed(ctx context.Context, batchID string) (*service.BatchView, error)
}

type UploadHandler struct {
	service        UploadService
	maxUploadBytes int64
}

func NewUploadHandler(service UploadService, maxUploadBytes int64) (*UploadHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("upload service is required")
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &UploadHandler{service: service, maxUploadBytes: maxUploadBytes}, nil
}

func RegisterUploadRoutes(router fiber.Router, service UploadService, maxUploadBytes int64) error {
	h, err := NewUploadHandler(service, maxUploadBytes)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/collections", h.ListCollections)
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Delete("/batches/:id", h.DiscardBatch)
	v1.Put("/batches/:id/collection", h.SetCollection)
	v1.Post("/batches/:id/files", h.AddFiles)
	v1.Delete("/batches/:id/files/:index", h.RemoveFile)
	v1.Post("/batches/:id/run", h.StartBatch)
	v1.Post("/batches/:id/retry", h.RetryFailed)

	return nil
}

type collectionResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createBatchRequest struct {
	CollectionName string `json:"collectionName"`
}

type setCollectionRequest struct {
	CollectionName string `json:"collectionName"`
}

type itemResponse struct {
	Index           int    `json:"index"`
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	MediaType       string `json:"mediaType,omitempty"`
	State           string `json:"state"`
	ProgressPercent int    `json:"progressPercent"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

type resultResponse struct {
	Outcome          string `json:"outcome"`
	FailedIndices    []int  `json:"failedIndices"`
	AutoClose        bool   `json:"autoClose"`
	AutoCloseAfterMS int64  `json:"autoCloseAfterMs,omitempty"`
}

type batchResponse struct {
	ID             string           `json:"id"`
	CollectionName string           `json:"collectionName,omitempty"`
	RunState       string           `json:"runState"`
	Items          []itemResponse   `json:"items"`
	Summary        progress.Summary `json:"summary"`
	Result         *resultResponse  `json:"result,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	StartedAt      *time.Time       `json:"startedAt,omitempty"`
	FinishedAt     *time.Time       `json:"finishedAt,omitempty"`
}

type addFilesResponse struct {
	batchResponse
	Rejected []string `json:"rejected,omitempty"`
	Warning  string   `json:"warning,omitempty"`
}

func (h *UploadHandler) ListCollections(c *fiber.Ctx) error {
	collections, err := h.service.ListCollections(requestContext(c))
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]collectionResponse, 0, len(collections))
	for _, collection := range collections {
		out = append(out, collectionResponse{ID: collection.ID, Name: collection.Name})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": out})
}

func (h *UploadHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	view, err := h.service.CreateBatch(requestContext(c), req.CollectionName)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(view))
}

func (h *UploadHandler) GetBatch(c *fiber.Ctx) error {
	view, err := h.service.Get(requestContext(c), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(view))
}

func (h *UploadHandler) DiscardBatch(c *fiber.Ctx) error {
	if err := h.service.Discard(requestContext(c), batchIDParam(c)); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *UploadHandler) SetCollection(c *fiber.Ctx) error {
	var req setCollectionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	view, err := h.service.SetCollection(requestContext(c), batchIDParam(c), req.CollectionName)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(view))
}

// AddFiles accepts multipart uploads under the "files" field. Rejected files
// come back as a warning next to the updated batch.
func (h *UploadHandler) AddFiles(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid multipart form")
	}

	headers := form.File[filesFormField]
	if len(headers) == 0 {
		return toHTTPError(fmt.Errorf("%w: %s is required", domain.ErrValidation, filesFormField))
	}

	files, err := h.readFiles(headers)
	if err != nil {
		return err
	}

	view, result, err := h.service.AddFiles(requestContext(c), batchIDParam(c), files)
	if err != nil {
		return toHTTPError(err)
	}

	warning := result.Warning()
	if warning != nil && len(result.Accepted) == 0 {
		return toHTTPError(warning)
	}

	resp := addFilesResponse{batchResponse: toBatchResponse(view)}
	if warning != nil {
		resp.Warning = warning.Error()
		for _, rejected := range result.Rejected {
			resp.Rejected = append(resp.Rejected, rejected.Name)
		}
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *UploadHandler) RemoveFile(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil {
		return toHTTPError(fmt.Errorf("%w: index must be an integer", domain.ErrValidation))
	}

	view, err := h.service.RemoveFile(requestContext(c), batchIDParam(c), index)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(view))
}

func (h *UploadHandler) StartBatch(c *fiber.Ctx) error {
	view, err := h.service.Start(requestContext(c), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toBatchResponse(view))
}

func (h *UploadHandler) RetryFailed(c *fiber.Ctx) error {
	view, err := h.service.RetryFailed(requestContext(c), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(view))
}

func (h *UploadHandler) readFiles(headers []*multipart.FileHeader) ([]domain.FileHandle, error) {
	var total int64
	files := make([]domain.FileHandle, 0, len(headers))
	for _, header := range headers {
		total += header.Size
		if total > h.maxUploadBytes {
			return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes))
		}

		content, err := readFileHeader(header)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("failed to read %s", header.Filename))
		}
		files = append(files, domain.NewMemoryFile(header.Filename, header.Header.Get(fiber.HeaderContentType), content))
	}
	return files, nil
}

func readFileHeader(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func batchIDParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("id"))
}

func toBatchResponse(view *service.BatchView) batchResponse {
	if view == nil {
		return batchResponse{}
	}

	b := view.Batch
	items := make([]itemResponse, 0, len(b.Items))
	for i, item := range b.Items {
		items = append(items, itemResponse{
			Index:           i,
			Name:            item.File.Name,
			Size:            item.File.Size,
			MediaType:       item.File.MediaType,
			State:           item.State.String(),
			ProgressPercent: item.ProgressPercent,
			ErrorMessage:    item.ErrorMessage,
		})
	}

	resp := batchResponse{
		ID:             b.ID,
		CollectionName: b.CollectionName,
		RunState:       b.RunState.String(),
		Items:          items,
		Summary:        view.Summary,
		CreatedAt:      b.CreatedAt,
		StartedAt:      b.StartedAt,
		FinishedAt:     b.FinishedAt,
	}
	if view.Result != nil {
		resp.Result = &resultResponse{
			Outcome:          view.Result.Outcome.String(),
			FailedIndices:    append([]int{}, view.Result.FailedIndices...),
			AutoClose:        view.Result.AutoClose,
			AutoCloseAfterMS: view.Result.AutoCloseAfter.Milliseconds(),
		}
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidBatch),
		errors.Is(err, domain.ErrIntakeRejected):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrBatchRunning):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	var ingestErr *provider.IngestError
	if errors.As(err, &ingestErr) {
		return fiber.NewError(fiber.StatusBadGateway, provider.FailureReason(err))
	}
	return err
}
