package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/ocrflow/internal/apikeys"
	"github.com/Lllllllleong/ocrflow/internal/models"
	"github.com/Lllllllleong/ocrflow/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodKey = "sk-0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeKeys struct {
	generated []string
	genErr    error
}

func (k *fakeKeys) Generate(_ context.Context, email string) (string, error) {
	k.generated = append(k.generated, email)
	return goodKey, k.genErr
}

func (k *fakeKeys) Validate(_ context.Context, key string) apikeys.Validation {
	if key == goodKey {
		return apikeys.Validation{Valid: true, Email: "user@example.com", IsActive: true}
	}
	return apikeys.Validation{}
}

type fakeConverter struct {
	reqs []*models.ConvertRequest
	err  error
}

func (f *fakeConverter) Convert(_ context.Context, req *models.ConvertRequest) (*models.ConvertResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	md := "# Hi"
	return &models.ConvertResponse{Markdown: &md, PageCount: 1, FileType: models.FileTypeImage, APIVersion: models.APIVersion}, nil
}

type fakeUploads struct {
	names []string
	types []string
}

func (u *fakeUploads) Upload(_ context.Context, name string, _ []byte, contentType string) (string, error) {
	u.names = append(u.names, name)
	u.types = append(u.types, contentType)
	return "https://storage.googleapis.com/uploads/" + name, nil
}

func (u *fakeUploads) SignedUpload(_ context.Context, name, contentType string, ttl time.Duration) (string, string, error) {
	u.names = append(u.names, name)
	u.types = append(u.types, contentType)
	return "https://storage.googleapis.com/uploads/" + name + "?X-Goog-Expires=" + fmt.Sprint(int(ttl.Seconds())),
		"https://storage.googleapis.com/uploads/" + name, nil
}

type testEnv struct {
	router    *gin.Engine
	converter *fakeConverter
	keys      *fakeKeys
	uploads   *fakeUploads
}

func newTestEnv(limit int) *testEnv {
	env := &testEnv{converter: &fakeConverter{}, keys: &fakeKeys{}, uploads: &fakeUploads{}}
	env.router = NewRouter(Deps{
		Converter:       env.converter,
		Keys:            env.keys,
		Uploads:         env.uploads,
		ClientUploads:   env.uploads,
		ConvertLimiter:  ratelimit.NewFixedWindow(limit, time.Minute),
		GenerateLimiter: ratelimit.NewFixedWindow(limit, time.Minute),
		ValidateLimiter: ratelimit.NewFixedWindow(limit, time.Minute),
		MaxUploadBytes:  1024,
	})
	return env
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func convertForm(fields map[string]string, key string) *http.Request {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/convert", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req
}

func multipartRequest(t *testing.T, target, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestConvertRequiresAPIKey(t *testing.T) {
	env := newTestEnv(10)

	w := env.do(convertForm(map[string]string{"url": "https://x.test/a.png"}, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "API key is required")

	w = env.do(convertForm(map[string]string{"url": "https://x.test/a.png"}, "sk-bogus"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid OCR API key")
	assert.Empty(t, env.converter.reqs)
}

func TestConvertSuccess(t *testing.T) {
	env := newTestEnv(10)

	w := env.do(convertForm(map[string]string{
		"url": "https://x.test/doc.pdf", "isPdf": "true", "model": "slow", "jsonMode": "true",
	}, goodKey))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ConvertResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "# Hi", *resp.Markdown)

	require.Len(t, env.converter.reqs, 1)
	got := env.converter.reqs[0]
	assert.Equal(t, "https://x.test/doc.pdf", got.URL)
	assert.True(t, got.IsPDF)
	assert.Equal(t, "slow", got.Model)
	assert.Equal(t, "json", got.OutputMode)
}

func TestConvertRateLimited(t *testing.T) {
	env := newTestEnv(2)
	fields := map[string]string{"url": "https://x.test/a.png"}

	assert.Equal(t, http.StatusOK, env.do(convertForm(fields, goodKey)).Code)
	assert.Equal(t, http.StatusOK, env.do(convertForm(fields, goodKey)).Code)
	w := env.do(convertForm(fields, goodKey))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Len(t, env.converter.reqs, 2)
}

func TestConvertFailureShape(t *testing.T) {
	env := newTestEnv(10)
	env.converter.err = errors.New("all 3 rasterizers failed")

	w := env.do(convertForm(map[string]string{"url": "https://x.test/files/broken.pdf?sig=1"}, goodKey))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "File processing failed", body.Error)
	assert.Equal(t, "all 3 rasterizers failed", body.Details)
	assert.Equal(t, "broken.pdf", body.Filename)
	assert.Equal(t, models.APIVersion, body.APIVersion)
	assert.NotEmpty(t, body.Timestamp)
}

func TestConvertBadInput(t *testing.T) {
	env := newTestEnv(10)

	w := env.do(convertForm(map[string]string{}, goodKey))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(convertForm(map[string]string{"url": "https://x.test/a.png", "outputMode": "xml"}, goodKey))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConvertPostedFile(t *testing.T) {
	env := newTestEnv(10)
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

	req := multipartRequest(t, "/api/convert", "scan.pdf", pdf, map[string]string{"model": "fast"})
	req.Header.Set("Authorization", "Bearer "+goodKey)
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, env.converter.reqs, 1)
	got := env.converter.reqs[0]
	assert.Equal(t, "https://storage.googleapis.com/uploads/scan.pdf", got.URL)
	assert.Equal(t, "scan.pdf", got.Filename)
	assert.True(t, got.IsPDF)
}

func TestUpload(t *testing.T) {
	env := newTestEnv(10)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	w := env.do(multipartRequest(t, "/api/upload", "photo.png", png, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "image/png", resp.ContentType)
	assert.Equal(t, "uploads/photo.png", resp.Pathname)
	assert.Equal(t, []string{"image/png"}, env.uploads.types)
}

func TestUploadRejects(t *testing.T) {
	env := newTestEnv(10)

	w := env.do(multipartRequest(t, "/api/upload", "notes.txt", []byte("just some text"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid file type")

	w = env.do(multipartRequest(t, "/api/upload", "big.pdf", bytes.Repeat([]byte("x"), 2048), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"needsClientUpload":true`)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)
	assert.Empty(t, env.uploads.names)
}

func jsonRequest(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestGenerateKey(t *testing.T) {
	env := newTestEnv(10)

	w := env.do(jsonRequest("/api/keys/generate", `{"email":"User@Example.com"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.GenerateKeyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, goodKey, resp.APIKey)
	assert.Equal(t, "user@example.com", resp.Email)

	w = env.do(jsonRequest("/api/keys/generate", `{"email":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.keys.genErr = apikeys.ErrInvalidEmail
	w = env.do(jsonRequest("/api/keys/generate", `{"email":"a@b"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.keys.genErr = errors.New("firestore down")
	w = env.do(jsonRequest("/api/keys/generate", `{"email":"a@b.com"}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGenerateKeyRateLimitedByIP(t *testing.T) {
	env := newTestEnv(1)

	assert.Equal(t, http.StatusOK, env.do(jsonRequest("/api/keys/generate", `{"email":"a@b.com"}`)).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(jsonRequest("/api/keys/generate", `{"email":"a@b.com"}`)).Code)
	assert.Len(t, env.keys.generated, 1)
}

func TestValidateKey(t *testing.T) {
	env := newTestEnv(10)

	w := env.do(jsonRequest("/api/keys/validate", `{"apiKey":"`+goodKey+`"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"valid":true,"email":"user@example.com"}`, w.Body.String())

	w = env.do(jsonRequest("/api/keys/validate", `{"apiKey":"pk_wrong"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"valid":false,"error":"Invalid API key format"}`, w.Body.String())

	w = env.do(jsonRequest("/api/keys/validate", `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(10)
	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) error {
	return errors.New("dial tcp: connection refused")
}

func TestLimiterOutageAdmitsRequests(t *testing.T) {
	env := newTestEnv(10)
	env.router = NewRouter(Deps{
		Converter:       env.converter,
		Keys:            env.keys,
		Uploads:         env.uploads,
		ConvertLimiter:  brokenLimiter{},
		GenerateLimiter: brokenLimiter{},
	})

	w := env.do(convertForm(map[string]string{"url": "https://x.test/a.png"}, goodKey))
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(jsonRequest("/api/keys/generate", `{"email":"a@b.com"}`))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientUpload(t *testing.T) {
	env := newTestEnv(10)

	w := env.do(jsonRequest("/api/client-upload", `{"filename":"large-scan.pdf","contentType":"application/pdf","size":104857600}`))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ClientUploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://storage.googleapis.com/uploads/large-scan.pdf?X-Goog-Expires=900", resp.UploadURL)
	assert.Equal(t, http.MethodPut, resp.Method)
	assert.Equal(t, "application/pdf", resp.Headers["Content-Type"])
	assert.Equal(t, "https://storage.googleapis.com/uploads/large-scan.pdf", resp.URL)
	assert.Equal(t, "uploads/large-scan.pdf", resp.Pathname)
	assert.NotEmpty(t, resp.ExpiresAt)
	assert.Equal(t, []string{"application/pdf"}, env.uploads.types)
}

func TestClientUploadRejects(t *testing.T) {
	env := newTestEnv(10)

	w := env.do(jsonRequest("/api/client-upload", `{"filename":"movie.mp4","contentType":"video/mp4","size":10}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid file type")

	w = env.do(jsonRequest("/api/client-upload", `{"filename":"huge.pdf","contentType":"application/pdf","size":524288001}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "500MB")

	w = env.do(jsonRequest("/api/client-upload", `{"contentType":"image/png"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.uploads.names)

	unconfigured := NewRouter(Deps{Converter: env.converter, Keys: env.keys, Uploads: env.uploads})
	rec := httptest.NewRecorder()
	unconfigured.ServeHTTP(rec, jsonRequest("/api/client-upload", `{"filename":"a.png","contentType":"image/png"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
