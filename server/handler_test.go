package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krau/alttext/config"
	"github.com/krau/alttext/pipeline"
)

const catCaption = "a cat sitting on a windowsill looking outside"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCaptioner struct {
	text string
	err  error
}

func (f fakeCaptioner) Caption(ctx context.Context, data []byte) (string, error) {
	return f.text, f.err
}

type fakeRefiner struct {
	fn func(prompt string) (string, error)
}

func (f fakeRefiner) Generate(ctx context.Context, prompt string) (string, error) {
	return f.fn(prompt)
}

func newTestRouter(cfg config.Config, cap pipeline.Captioner, capErr error, ref pipeline.Refiner) *gin.Engine {
	pipe := pipeline.New(
		pipeline.Config{Prompt: "Create SEO-optimized alt text (8-12 words): {caption}\nAlt:"},
		func(ctx context.Context) (pipeline.Captioner, error) {
			if capErr != nil {
				return nil, capErr
			}
			return cap, nil
		},
		func(ctx context.Context) (pipeline.Refiner, error) { return ref, nil },
	)
	return New(cfg, pipe).Router()
}

func echoRouter() *gin.Engine {
	return newTestRouter(config.Config{},
		fakeCaptioner{text: catCaption}, nil,
		fakeRefiner{fn: func(prompt string) (string, error) { return catCaption, nil }})
}

func multipartImage(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postImage(t *testing.T, r *gin.Engine, path, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := multipartImage(t, filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", formType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAltRejectsNonImageContentType(t *testing.T) {
	rec := postImage(t, echoRouter(), "/alt", "notes.txt", "text/plain", []byte("hello"))

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "file must be an image", decodeBody(t, rec)["detail"])
}

func TestAltRejectsEmptyFile(t *testing.T) {
	rec := postImage(t, echoRouter(), "/alt", "empty.png", "image/png", nil)

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "empty file", decodeBody(t, rec)["detail"])
}

func TestAltRejectsMissingFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/alt", nil)
	rec := httptest.NewRecorder()
	echoRouter().ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestAltEndToEndEchoRefiner(t *testing.T) {
	rec := postImage(t, echoRouter(), "/alt", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})

	require.Equal(t, 200, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, map[string]any{"alt": catCaption}, body)
}

func TestAltShortGenerationFallsBackToCaption(t *testing.T) {
	r := newTestRouter(config.Config{},
		fakeCaptioner{text: catCaption}, nil,
		fakeRefiner{fn: func(prompt string) (string, error) { return prompt + " tiny output", nil }})

	rec := postImage(t, r, "/alt", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, catCaption, decodeBody(t, rec)["alt"])
}

func TestAltRawFlag(t *testing.T) {
	rec := postImage(t, echoRouter(), "/alt?raw=true", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})

	require.Equal(t, 200, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, catCaption, body["alt"])
	assert.Equal(t, catCaption, body["raw"])
	assert.NotContains(t, body, "caption")
}

func TestAltIncludeCaptionFlag(t *testing.T) {
	rec := postImage(t, echoRouter(), "/alt?include_caption=true", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})

	require.Equal(t, 200, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, catCaption, body["alt"])
	assert.Equal(t, catCaption, body["caption"])
}

func TestAltModelLoadFailureIs500(t *testing.T) {
	r := newTestRouter(config.Config{}, nil, errors.New("download failed"), nil)

	rec := postImage(t, r, "/alt", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})
	assert.Equal(t, 500, rec.Code)
}

func TestCaptionEndpointCountsWords(t *testing.T) {
	rec := postImage(t, echoRouter(), "/caption", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})

	require.Equal(t, 200, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, catCaption, body["alt"])
	assert.Equal(t, float64(8), body["words"])
	assert.NotContains(t, body, "caption")
}

func TestCaptionEndpointIncludeCaption(t *testing.T) {
	rec := postImage(t, echoRouter(), "/caption?include_caption=1", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, catCaption, decodeBody(t, rec)["caption"])
}

func TestTestEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	echoRouter().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Server is working", body["message"])
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	echoRouter().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestAuthTokenRequired(t *testing.T) {
	r := newTestRouter(config.Config{Token: "secret"},
		fakeCaptioner{text: catCaption}, nil,
		fakeRefiner{fn: func(prompt string) (string, error) { return catCaption, nil }})

	rec := postImage(t, r, "/alt", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})
	assert.Equal(t, 401, rec.Code)

	body, formType := multipartImage(t, "cat.jpg", "image/jpeg", []byte{0xff, 0xd8})
	req := httptest.NewRequest(http.MethodPost, "/alt", body)
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	echoRouter().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	echoRouter().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
