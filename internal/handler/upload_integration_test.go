package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/doc-uploader/internal/domain"
	"github.com/kursadbilgin/doc-uploader/internal/intake"
	"github.com/kursadbilgin/doc-uploader/internal/observability"
	"github.com/kursadbilgin/doc-uploader/internal/provider"
	"github.com/kursadbilgin/doc-uploader/internal/service"
	"github.com/kursadbilgin/doc-uploader/internal/transport"
	"go.uber.org/zap"
)

func TestUploadIntegration_EndToEndPartialFailure(t *testing.T) {
	t.Parallel()

	ingestor := &stubIngestor{
		ingestFn: func(ctx context.Context, collectionName string, file domain.FileHandle) (*provider.IngestAck, error) {
			if file.Name == "b.txt" {
				return nil, &provider.IngestError{StatusCode: 413, Message: "quota exceeded"}
			}
			return &provider.IngestAck{StatusCode: 201}, nil
		},
	}
	app := newIntegrationApp(t, ingestor)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/collections", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("collections status = %d, body=%s", resp.StatusCode, string(body))
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/batches", `{"collectionName":"docs"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}
	created := decodeBatch(t, body)
	if created.RunState != domain.RunStateIdle.String() {
		t.Fatalf("runState = %s, want IDLE", created.RunState)
	}

	resp, body = performMultipart(t, app, "/v1/batches/"+created.ID+"/files", map[string]string{
		"a.pdf": "alpha",
		"b.txt": "bravo",
		"c.exe": "binary",
	}, []string{"a.pdf", "b.txt", "c.exe"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("add files status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var added addFilesResponse
	if err := json.Unmarshal(body, &added); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(added.Items) != 2 || added.Warning == "" || len(added.Rejected) != 1 || added.Rejected[0] != "c.exe" {
		t.Fatalf("add files response = %+v", added)
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/batches/"+created.ID+"/run", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("run status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var final batchResponse
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body = performRequest(t, app, http.MethodGet, "/v1/batches/"+created.ID, "")
		final = decodeBatch(t, body)
		if final.Result != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if final.Result == nil {
		t.Fatal("batch did not finish in time")
	}
	if final.Result.Outcome != domain.OutcomePartialFailure.String() {
		t.Fatalf("outcome = %s, want PARTIAL_FAILURE", final.Result.Outcome)
	}
	if len(final.Result.FailedIndices) != 1 || final.Result.FailedIndices[0] != 1 {
		t.Fatalf("failedIndices = %v, want [1]", final.Result.FailedIndices)
	}
	if final.Items[1].ErrorMessage != "quota exceeded" {
		t.Fatalf("item 1 error = %q, want quota exceeded", final.Items[1].ErrorMessage)
	}
	if final.Summary.Completed != 1 || final.Summary.Failed != 1 {
		t.Fatalf("summary = %+v", final.Summary)
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/batches/"+created.ID+"/retry", "")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("retry status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}
	retry := decodeBatch(t, body)
	if len(retry.Items) != 1 || retry.Items[0].Name != "b.txt" || retry.ID == created.ID {
		t.Fatalf("retry batch = %+v", retry)
	}
}

func TestUploadIntegration_AllRejected(t *testing.T) {
	t.Parallel()

	svc := &stubUploadService{
		addFilesFn: func(ctx context.Context, batchID string, files []domain.FileHandle) (*service.BatchView, intake.Result, error) {
			return &service.BatchView{}, intake.Result{Rejected: files}, nil
		},
	}
	app := newStubApp(t, svc)

	resp, body := performMultipart(t, app, "/v1/batches/b1/files", map[string]string{"x.exe": "bin"}, []string{"x.exe"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(body))
	}
	if !bytes.Contains(body, []byte("no supported files selected")) {
		t.Fatalf("body = %s, want intake warning", string(body))
	}
}

func TestUploadIntegration_UploadTooLarge(t *testing.T) {
	t.Parallel()

	called := false
	svc := &stubUploadService{
		addFilesFn: func(ctx context.Context, batchID string, files []domain.FileHandle) (*service.BatchView, intake.Result, error) {
			called = true
			return &service.BatchView{}, intake.Result{Accepted: files}, nil
		},
	}
	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterUploadRoutes(app, svc, 4); err != nil {
		t.Fatalf("RegisterUploadRoutes() error = %v", err)
	}

	resp, _ := performMultipart(t, app, "/v1/batches/b1/files", map[string]string{"a.pdf": "too large"}, []string{"a.pdf"})
	if resp.StatusCode != fiber.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	if called {
		t.Fatal("service should not be called for oversized uploads")
	}
}

func TestUploadIntegration_ErrorMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: fmt.Errorf("%w: batch b1", domain.ErrNotFound), status: fiber.StatusNotFound},
		{name: "invalid batch", err: fmt.Errorf("%w: collection name is required", domain.ErrInvalidBatch), status: fiber.StatusBadRequest},
		{name: "conflict", err: fmt.Errorf("%w: batch b1 is RUNNING", domain.ErrConflict), status: fiber.StatusConflict},
		{name: "running", err: fmt.Errorf("%w: frozen", domain.ErrBatchRunning), status: fiber.StatusConflict},
		{name: "backend", err: &provider.IngestError{StatusCode: 503, Message: "unavailable"}, status: fiber.StatusBadGateway},
		{name: "unexpected", err: errors.New("boom"), status: fiber.StatusInternalServerError},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubUploadService{
				startFn: func(ctx context.Context, batchID string) (*service.BatchView, error) {
					return nil, tc.err
				},
			}
			app := newStubApp(t, svc)

			resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/b1/run", "")
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tc.status, string(body))
			}
		})
	}
}

func TestUploadIntegration_RemoveFileIndexValidation(t *testing.T) {
	t.Parallel()

	var gotIndex int
	svc := &stubUploadService{
		removeFileFn: func(ctx context.Context, batchID string, index int) (*service.BatchView, error) {
			gotIndex = index
			return &service.BatchView{Batch: domain.Batch{ID: batchID, RunState: domain.RunStateIdle}}, nil
		},
	}
	app := newStubApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodDelete, "/v1/batches/b1/files/abc", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/batches/b1/files/2", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if gotIndex != 2 {
		t.Fatalf("index = %d, want 2", gotIndex)
	}
}

func TestUploadIntegration_CorrelationIDFromHeader(t *testing.T) {
	t.Parallel()

	var got string
	svc := &stubUploadService{
		createBatchFn: func(ctx context.Context, collectionName string) (*service.BatchView, error) {
			got, _ = observability.CorrelationIDFromContext(ctx)
			return &service.BatchView{Batch: domain.Batch{ID: "b1", RunState: domain.RunStateIdle}}, nil
		},
	}
	app := newStubApp(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if got != "req-42" {
		t.Fatalf("correlation id = %q, want req-42", got)
	}
}

func TestHealthIntegration_Readyz(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus int
	}{
		{
			name:       "no optional dependencies",
			wantStatus: fiber.StatusOK,
		},
		{
			name: "all up",
			checks: []DependencyCheck{
				{Name: "redis", Ping: func(context.Context) error { return nil }},
				{Name: "ingest", Ping: func(context.Context) error { return nil }},
			},
			wantStatus: fiber.StatusOK,
		},
		{
			name: "broker down",
			checks: []DependencyCheck{
				{Name: "redis", Ping: func(context.Context) error { return nil }},
				{Name: "rabbitmq", Ping: func(context.Context) error { return errors.New("closed") }},
			},
			wantStatus: fiber.StatusServiceUnavailable,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New()
			RegisterHealthRoutes(app, tc.checks...)

			resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tc.wantStatus, string(body))
			}

			resp, _ = performRequest(t, app, http.MethodGet, "/livez", "")
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("livez status = %d, want 200", resp.StatusCode)
			}
		})
	}
}

func newIntegrationApp(t *testing.T, ingestor *stubIngestor) *fiber.App {
	t.Helper()

	orchestrator, err := service.NewOrchestrator(ingestor, nil, nil, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	svc, err := service.NewUploadService(orchestrator, ingestor, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewUploadService() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	return newStubApp(t, svc)
}

func newStubApp(t *testing.T, svc UploadService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := RegisterUploadRoutes(app, svc, 0); err != nil {
		t.Fatalf("RegisterUploadRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func performMultipart(t *testing.T, app *fiber.App, path string, contents map[string]string, order []string) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range order {
		part, err := writer.CreateFormFile(filesFormField, name)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write([]byte(contents[name])); err != nil {
			t.Fatalf("part.Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func decodeBatch(t *testing.T, body []byte) batchResponse {
	t.Helper()

	var out batchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("json unmarshal error = %v, body=%s", err, string(body))
	}
	return out
}

type stubIngestor struct {
	ingestFn func(ctx context.Context, collectionName string, file domain.FileHandle) (*provider.IngestAck, error)
}

func (s *stubIngestor) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	return []domain.Collection{{ID: "c1", Name: "docs"}}, nil
}

func (s *stubIngestor) IngestFile(ctx context.Context, collectionName string, file domain.FileHandle) (*provider.IngestAck, error) {
	if s.ingestFn != nil {
		return s.ingestFn(ctx, collectionName, file)
	}
	return &provider.IngestAck{StatusCode: 201}, nil
}

type stubUploadService struct {
	createBatchFn func(ctx context.Context, collectionName string) (*service.BatchView, error)
	addFilesFn    func(ctx context.Context, batchID string, files []domain.FileHandle) (*service.BatchView, intake.Result, error)
	removeFileFn  func(ctx context.Context, batchID string, index int) (*service.BatchView, error)
	startFn       func(ctx context.Context, batchID string) (*service.BatchView, error)
}

func (s *stubUploadService) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	return nil, nil
}

func (s *stubUploadService) CreateBatch(ctx context.Context, collectionName string) (*service.BatchView, error) {
	if s.createBatchFn != nil {
		return s.createBatchFn(ctx, collectionName)
	}
	return nil, errors.New("not implemented")
}

func (s *stubUploadService) SetCollection(ctx context.Context, batchID string, collectionName string) (*service.BatchView, error) {
	return nil, errors.New("not implemented")
}

func (s *stubUploadService) AddFiles(ctx context.Context, batchID string, files []domain.FileHandle) (*service.BatchView, intake.Result, error) {
	if s.addFilesFn != nil {
		return s.addFilesFn(ctx, batchID, files)
	}
	return nil, intake.Result{}, errors.New("not implemented")
}

func (s *stubUploadService) RemoveFile(ctx context.Context, batchID string, index int) (*service.BatchView, error) {
	if s.removeFileFn != nil {
		return s.removeFileFn(ctx, batchID, index)
	}
	return nil, errors.New("not implemented")
}

func (s *stubUploadService) Discard(ctx context.Context, batchID string) error {
	return errors.New("not implemented")
}

func (s *stubUploadService) Start(ctx context.Context, batchID string) (*service.BatchView, error) {
	if s.startFn != nil {
		return s.startFn(ctx, batchID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubUploadService) Get(ctx context.Context, batchID string) (*service.BatchView, error) {
	return nil, errors.New("not implemented")
}

func (s *stubUploadService) RetryFailed(ctx context.Context, batchID string) (*service.BatchView, error) {
	return nil, errors.New("not implemented")
}
