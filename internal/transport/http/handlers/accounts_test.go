package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atbmarket/account-service/internal/core/domain"
	"github.com/atbmarket/account-service/internal/core/port"
	"github.com/atbmarket/account-service/internal/media"
	"github.com/atbmarket/account-service/internal/repository"
	"github.com/atbmarket/account-service/internal/usecase"
	"github.com/atbmarket/account-service/internal/validation"
)

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: map[string]domain.User{}}
}

func (r *memoryUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *memoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *memoryUserRepo) List(_ context.Context, _ port.UserFilter) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, user)
	}
	return out, nil
}

func (r *memoryUserRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), nil
}

func (r *memoryUserRepo) Update(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *memoryUserRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}}
}

func (s *memoryStorage) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memoryStorage) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.local/" + key, nil
}

func (s *memoryStorage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type memoryURLCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryURLCache() *memoryURLCache {
	return &memoryURLCache{entries: map[string]string{}}
}

func (c *memoryURLCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.entries[key]
	return url, ok, nil
}

func (c *memoryURLCache) Set(_ context.Context, key, url string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = url
	return nil
}

func (c *memoryURLCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

type fixedTokenIssuer struct{}

func (fixedTokenIssuer) IssueFor(_ context.Context, userID string) (port.TokenPair, error) {
	return port.TokenPair{Access: "access-" + userID, Refresh: "refresh-" + userID}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *memoryUserRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := newMemoryUserRepo()
	service := usecase.NewAccountService(
		repo,
		newMemoryStorage(),
		newMemoryURLCache(),
		nil,
		fixedTokenIssuer{},
		media.NewTranscoder(media.DefaultJPEGQuality),
		usecase.AccountServiceConfig{},
		nil,
	)

	r := gin.New()
	api := r.Group("/api/v1")
	NewAccountHandler(service).RegisterRoutes(api)
	return r, repo
}

func registerBody() map[string]string {
	return map[string]string{
		"username":   "oksana_k",
		"email":      "oksana@example.com",
		"password":   "Str0ngPass!",
		"first_name": "Оксана",
		"last_name":  "Коваленко",
		"phone":      "+380671234567",
	}
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRegisterEndpointReturnsTokenPair(t *testing.T) {
	r, repo := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPost, "/api/v1/register", registerBody())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp TokenPairResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Access == "" || resp.Refresh == "" {
		t.Fatalf("token pair incomplete: %+v", resp)
	}

	if n, _ := repo.Count(context.Background()); n != 1 {
		t.Fatalf("users persisted = %d, want 1", n)
	}
}

func TestRegisterEndpointFieldErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	body := registerBody()
	body["username"] = "ab"
	body["password"] = "short"

	rr := doJSON(t, r, http.MethodPost, "/api/v1/register", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var fields map[string][]string
	if err := json.Unmarshal(rr.Body.Bytes(), &fields); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got := fields["username"]; len(got) != 1 || got[0] != validation.ReasonUsernameTooShort {
		t.Fatalf("username errors = %v", got)
	}
	if got := fields["password"]; len(got) != 1 || got[0] != validation.ReasonPasswordTooShort {
		t.Fatalf("password errors = %v", got)
	}
}

func TestRegisterEndpointDuplicateUsername(t *testing.T) {
	r, _ := newTestRouter(t)

	if rr := doJSON(t, r, http.MethodPost, "/api/v1/register", registerBody()); rr.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rr.Code)
	}

	body := registerBody()
	body["email"] = "other@example.com"

	rr := doJSON(t, r, http.MethodPost, "/api/v1/register", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var fields map[string][]string
	if err := json.Unmarshal(rr.Body.Bytes(), &fields); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got := fields["username"]; len(got) != 1 || got[0] != validation.ReasonUsernameTaken {
		t.Fatalf("username errors = %v", got)
	}
}

func TestRegisterEndpointMultipartWithImage(t *testing.T) {
	r, repo := newTestRouter(t)

	img := image.NewRGBA(image.Rect(0, 0, 500, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 500; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 60, A: 255})
		}
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range registerBody() {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	part, err := writer.CreateFormFile("image", "avatar.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(pngBuf.Bytes()); err != nil {
		t.Fatalf("write image part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/register", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	users, _ := repo.List(context.Background(), port.UserFilter{})
	if len(users) != 1 {
		t.Fatalf("users = %d, want 1", len(users))
	}
	if len(users[0].Images.Keys()) != 3 {
		t.Fatalf("image keys = %v, want 3", users[0].Images.Keys())
	}
}

func TestGetUserEndpoint(t *testing.T) {
	r, repo := newTestRouter(t)

	if rr := doJSON(t, r, http.MethodPost, "/api/v1/register", registerBody()); rr.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rr.Code)
	}

	users, _ := repo.List(context.Background(), port.UserFilter{})
	id := users[0].ID

	rr := doJSON(t, r, http.MethodGet, "/api/v1/users/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp UserResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Username != "oksana_k" {
		t.Fatalf("username = %q", resp.Username)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Fatal("response must not leak credential material")
	}
}

func TestGetUserEndpointNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doJSON(t, r, http.MethodGet, "/api/v1/users/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestUpdateUserEndpoint(t *testing.T) {
	r, repo := newTestRouter(t)

	if rr := doJSON(t, r, http.MethodPost, "/api/v1/register", registerBody()); rr.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rr.Code)
	}
	users, _ := repo.List(context.Background(), port.UserFilter{})
	id := users[0].ID

	rr := doJSON(t, r, http.MethodPatch, "/api/v1/users/"+id, map[string]string{"email": "new@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp UserResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Email != "new@example.com" {
		t.Fatalf("email = %q", resp.Email)
	}
	if resp.Username != "oksana_k" {
		t.Fatal("absent fields must be untouched")
	}
}

func TestDeleteUserEndpoint(t *testing.T) {
	r, repo := newTestRouter(t)

	if rr := doJSON(t, r, http.MethodPost, "/api/v1/register", registerBody()); rr.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rr.Code)
	}
	users, _ := repo.List(context.Background(), port.UserFilter{})
	id := users[0].ID

	rr := doJSON(t, r, http.MethodDelete, "/api/v1/users/"+id, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	if rr := doJSON(t, r, http.MethodDelete, "/api/v1/users/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestListUsersEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	first := registerBody()
	second := registerBody()
	second["username"] = "bohdan_m"
	second["email"] = "bohdan@example.com"

	for _, body := range []map[string]string{first, second} {
		if rr := doJSON(t, r, http.MethodPost, "/api/v1/register", body); rr.Code != http.StatusCreated {
			t.Fatalf("seed status = %d, body %s", rr.Code, rr.Body.String())
		}
	}

	rr := doJSON(t, r, http.MethodGet, "/api/v1/users", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp UserListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Total != 2 || len(resp.Users) != 2 {
		t.Fatalf("total = %d, users = %d, want 2", resp.Total, len(resp.Users))
	}
}
