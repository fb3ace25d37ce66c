package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/doc-uploader/internal/domain"
)

const (
	defaultIngestTimeout = 60 * time.Second
	multipartFileField   = "file"
)

type collectionPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ingestAckPayload struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
}

type errorPayload struct {
	Detail  string `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPIngestor talks to a REST ingestion backend exposing
// GET /collections and POST /collections/{name}/documents.
type HTTPIngestor struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPIngestor(baseURL string, token string, timeout time.Duration) (*HTTPIngestor, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultIngestTimeout
	}
	client.SetTimeout(timeout)
	if token = strings.TrimSpace(token); token != "" {
		client.SetAuthToken(token)
	}

	return NewHTTPIngestorWithClient(baseURL, client)
}

func NewHTTPIngestorWithClient(baseURL string, client *resty.Client) (*HTTPIngestor, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("ingest api url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid ingest api url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultIngestTimeout)
	}
	// Failed items are never retried automatically.
	client.SetRetryCount(0)

	return &HTTPIngestor{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (p *HTTPIngestor) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("ingestor is not initialized")
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(p.baseURL + "/collections")
	if err != nil {
		return nil, requestError("list collections request failed", err)
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())
	if !isSuccessStatus(statusCode) {
		return nil, &IngestError{
			StatusCode: statusCode,
			Message:    backendMessage(statusCode, body),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	var payload []collectionPayload
	if err := json.Unmarshal(response.Body(), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode collections response: %w", err)
	}

	collections := make([]domain.Collection, 0, len(payload))
	for _, c := range payload {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		collections = append(collections, domain.Collection{ID: c.ID, Name: name})
	}
	return collections, nil
}

func (p *HTTPIngestor) IngestFile(ctx context.Context, collectionName string, file domain.FileHandle) (*IngestAck, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("ingestor is not initialized")
	}
	collectionName = strings.TrimSpace(collectionName)
	if collectionName == "" {
		return nil, fmt.Errorf("%w: collection name is required", domain.ErrValidation)
	}

	content, err := file.Open()
	if err != nil {
		return nil, &IngestError{
			Message: fmt.Sprintf("failed to read %s", file.Name),
			Cause:   err,
		}
	}
	defer content.Close()

	request := p.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	if file.MediaType != "" {
		request.SetMultipartField(multipartFileField, file.Name, file.MediaType, content)
	} else {
		request.SetFileReader(multipartFileField, file.Name, content)
	}

	endpoint := fmt.Sprintf("%s/collections/%s/documents", p.baseURL, url.PathEscape(collectionName))
	response, err := request.Post(endpoint)
	if err != nil {
		return nil, requestError("ingest request failed", err)
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())
	if isSuccessStatus(statusCode) {
		return &IngestAck{
			StatusCode: statusCode,
			DocumentID: documentID(response.Body()),
			Body:       body,
		}, nil
	}

	return nil, &IngestError{
		StatusCode: statusCode,
		Message:    backendMessage(statusCode, body),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func requestError(message string, err error) *IngestError {
	return &IngestError{
		Message:   message,
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

// backendMessage extracts the reason from a JSON error body, falling back to
// the raw body and finally the status code.
func backendMessage(statusCode int, body string) string {
	if body != "" {
		var payload errorPayload
		if err := json.Unmarshal([]byte(body), &payload); err == nil {
			for _, candidate := range []string{payload.Detail, payload.Error, payload.Message} {
				if msg := strings.TrimSpace(candidate); msg != "" {
					return msg
				}
			}
		} else {
			return body
		}
	}
	return fmt.Sprintf("ingestion failed with status %d", statusCode)
}

func documentID(body []byte) string {
	var payload ingestAckPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if id := strings.TrimSpace(payload.DocumentID); id != "" {
		return id
	}
	return strings.TrimSpace(payload.ID)
}
