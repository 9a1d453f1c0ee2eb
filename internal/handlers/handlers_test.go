package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/ridgelab/internal/auth"
	"github.com/example/ridgelab/internal/pipeline"
	"github.com/example/ridgelab/internal/repository"
	"github.com/example/ridgelab/internal/storage"
	"github.com/example/ridgelab/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubRepo struct {
	created []*repository.ProcessingRun
	listed  []*repository.ProcessingRun
}

func (s *stubRepo) Create(ctx context.Context, run *repository.ProcessingRun) error {
	s.created = append(s.created, run)
	return nil
}

func (s *stubRepo) UpdateTerminal(ctx context.Context, run *repository.ProcessingRun) error {
	return nil
}

func (s *stubRepo) FindByRunID(ctx context.Context, runID string) (*repository.ProcessingRun, error) {
	for _, run := range s.created {
		if run.RunID == runID {
			return run, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *stubRepo) List(ctx context.Context, limit, offset int, status string) ([]*repository.ProcessingRun, int64, error) {
	return s.listed, int64(len(s.listed)), nil
}

func (s *stubRepo) DeleteByRunID(ctx context.Context, runID string) error {
	return nil
}

func (s *stubRepo) AggregateSummary(ctx context.Context) (*repository.RunSummary, error) {
	return &repository.RunSummary{}, nil
}

type missCache struct{}

func (missCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}
func (missCache) Get(ctx context.Context, key string) (string, error) { return "", redis.Nil }
func (missCache) Del(ctx context.Context, key string) error           { return nil }

type memBlobs struct{ data map[string][]byte }

func (b *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (storage.Ref, error) {
	if b.data == nil {
		b.data = map[string][]byte{}
	}
	b.data[key] = data
	return storage.Ref{Key: key, URL: "http://blobs.local/" + key}, nil
}

func (b *memBlobs) Get(ctx context.Context, key string) (storage.Ref, error) {
	return storage.Ref{Key: key, URL: "http://blobs.local/" + key}, nil
}

func newTestRouter(repo *stubRepo, authMiddleware gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	uc := usecase.NewRunUseCase(repo, missCache{}, &memBlobs{}, nil, nil, usecase.NewRunMetrics(nil), zap.NewNop())
	r := gin.New()
	r.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(r, uc, authMiddleware)
	return r
}

func imageUploadBody(t *testing.T, imageBytes []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "sample.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(imageBytes); err != nil {
		t.Fatalf("failed to write image part: %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	f := pipeline.NewFrame(4, 4)
	for i := 3; i < len(f.Pix); i += 4 {
		f.Pix[i] = 255
	}
	encoded, err := f.EncodePNG()
	if err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return encoded
}

func TestSubmitRunRequiresImage(t *testing.T) {
	router := newTestRouter(&stubRepo{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitRunProcessesImage(t *testing.T) {
	repo := &stubRepo{}
	router := newTestRouter(repo, nil)

	body, contentType := imageUploadBody(t, testPNG(t), map[string]string{"case_id": "case-1"})
	req := httptest.NewRequest(http.MethodPost, "/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		Metrics struct {
			BackgroundCleanness float64 `json:"background_cleanness"`
		} `json:"metrics"`
		ProcessedURL string `json:"processed_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RunID == "" || resp.Status != repository.StatusCompleted {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Metrics.BackgroundCleanness != 1.0 {
		t.Fatalf("expected clean background, got %f", resp.Metrics.BackgroundCleanness)
	}
	if resp.ProcessedURL == "" {
		t.Fatal("missing processed url")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one persisted run, got %d", len(repo.created))
	}
}

func TestSubmitRunUndecodableImageFails(t *testing.T) {
	router := newTestRouter(&stubRepo{}, nil)

	body, contentType := imageUploadBody(t, []byte("not an image"), nil)
	req := httptest.NewRequest(http.MethodPost, "/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != repository.StatusFailed || resp.Error == "" {
		t.Fatalf("expected failed run with detail, got %+v", resp)
	}
}

func TestSubmitRunRejectsBadSeed(t *testing.T) {
	router := newTestRouter(&stubRepo{}, nil)

	body, contentType := imageUploadBody(t, testPNG(t), map[string]string{"seed": "not-a-number"})
	req := httptest.NewRequest(http.MethodPost, "/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	router := newTestRouter(&stubRepo{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/runs/unknown-id", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListRunsReturnsPage(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{listed: []*repository.ProcessingRun{
		{RunID: "run-1", Status: repository.StatusCompleted, CreatedAt: now},
		{RunID: "run-2", Status: repository.StatusFailed, CreatedAt: now},
	}}
	router := newTestRouter(repo, nil)

	req := httptest.NewRequest(http.MethodGet, "/runs?limit=10&offset=0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Runs  []map[string]interface{} `json:"runs"`
		Total int64                    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Runs) != 2 || resp.Total != 2 {
		t.Fatalf("unexpected page %+v", resp)
	}
}

func TestRunsRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(&stubRepo{}, auth.JWTMiddleware(testJWTSecret, ""))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "operator-1"}).
		SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}
