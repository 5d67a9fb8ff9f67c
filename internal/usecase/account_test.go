package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atbmarket/account-service/internal/core/domain"
	"github.com/atbmarket/account-service/internal/core/port"
	"github.com/atbmarket/account-service/internal/media"
	"github.com/atbmarket/account-service/internal/repository"
	"github.com/atbmarket/account-service/internal/validation"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User

	usernameTaken bool
	emailTaken    bool
	createErr     error
	updateErr     error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]domain.User{}}
}

func (r *fakeUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *fakeUserRepo) List(_ context.Context, _ port.UserFilter) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, user)
	}
	return out, nil
}

func (r *fakeUserRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), nil
}

func (r *fakeUserRepo) Update(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) ExistsByUsername(_ context.Context, _ string) (bool, error) {
	return r.usernameTaken, nil
}

func (r *fakeUserRepo) ExistsByEmail(_ context.Context, _ string) (bool, error) {
	return r.emailTaken, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (s *fakeStorage) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *fakeStorage) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.local/" + key, nil
}

func (s *fakeStorage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, key)
	delete(s.objects, key)
	return nil
}

type fakeURLCache struct {
	mu          sync.Mutex
	entries     map[string]string
	invalidated []string
}

func newFakeURLCache() *fakeURLCache {
	return &fakeURLCache{entries: map[string]string{}}
}

func (c *fakeURLCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.entries[key]
	return url, ok, nil
}

func (c *fakeURLCache) Set(_ context.Context, key, url string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = url
	return nil
}

func (c *fakeURLCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, keys...)
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

type recordingPublisher struct {
	mu         sync.Mutex
	registered []domain.UserRegisteredEvent
	updated    []domain.UserUpdatedEvent
	deleted    []domain.UserDeletedEvent
}

func (p *recordingPublisher) PublishUserRegistered(_ context.Context, e domain.UserRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, e)
	return nil
}

func (p *recordingPublisher) PublishUserUpdated(_ context.Context, e domain.UserUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, e)
	return nil
}

func (p *recordingPublisher) PublishUserDeleted(_ context.Context, e domain.UserDeletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, e)
	return nil
}

type staticTokenIssuer struct {
	err error
}

func (i staticTokenIssuer) IssueFor(_ context.Context, userID string) (port.TokenPair, error) {
	if i.err != nil {
		return port.TokenPair{}, i.err
	}
	return port.TokenPair{Access: "access-" + userID, Refresh: "refresh-" + userID}, nil
}

type serviceFixture struct {
	service *AccountService
	repo    *fakeUserRepo
	storage *fakeStorage
	urls    *fakeURLCache
	events  *recordingPublisher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		repo:    newFakeUserRepo(),
		storage: newFakeStorage(),
		urls:    newFakeURLCache(),
		events:  &recordingPublisher{},
	}
	f.service = NewAccountService(
		f.repo,
		f.storage,
		f.urls,
		f.events,
		staticTokenIssuer{},
		media.NewTranscoder(media.DefaultJPEGQuality),
		AccountServiceConfig{},
		nil,
	)
	return f
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func validRegisterInput() RegisterInput {
	return RegisterInput{
		Username:  "oksana_k",
		Email:     "oksana@example.com",
		Password:  "Str0ngPass!",
		FirstName: "Оксана",
		LastName:  "Коваленко",
		Phone:     "+380671234567",
	}
}

func fieldErrors(t *testing.T, err error) validation.Errors {
	t.Helper()

	var errs validation.Errors
	if !errors.As(err, &errs) {
		t.Fatalf("error %v (%T) is not validation.Errors", err, err)
	}
	return errs
}

func TestRegister(t *testing.T) {
	f := newServiceFixture(t)

	user, pair, err := f.service.Register(context.Background(), validRegisterInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if user.ID == "" {
		t.Fatal("expected generated user id")
	}
	if user.PasswordHash == "" || !strings.HasPrefix(user.PasswordHash, "argon2id$") {
		t.Fatalf("unexpected password hash %q", user.PasswordHash)
	}
	if pair.Access == "" || pair.Refresh == "" {
		t.Fatalf("expected token pair, got %+v", pair)
	}
	if user.Phone == nil || *user.Phone != "+380671234567" {
		t.Fatalf("phone = %v", user.Phone)
	}
	if !user.Images.IsZero() {
		t.Fatal("expected no image set without an upload")
	}

	stored, err := f.repo.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if stored.Username != "oksana_k" {
		t.Fatalf("stored username = %q", stored.Username)
	}

	if len(f.events.registered) != 1 {
		t.Fatalf("registered events = %d, want 1", len(f.events.registered))
	}
	if f.events.registered[0].UserID != user.ID {
		t.Fatal("event carries wrong user id")
	}
}

func TestRegisterAggregatesAllFieldErrors(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.emailTaken = true

	in := RegisterInput{
		Username:  "ab",
		Email:     "taken@example.com",
		Password:  "short",
		FirstName: "О",
		LastName:  "Коваленко",
		Phone:     "123",
	}

	_, _, err := f.service.Register(context.Background(), in)
	errs := fieldErrors(t, err)

	want := map[string]string{
		validation.FieldUsername:  validation.ReasonUsernameTooShort,
		validation.FieldEmail:     validation.ReasonEmailTaken,
		validation.FieldPassword:  validation.ReasonPasswordTooShort,
		validation.FieldFirstName: validation.ReasonFirstNameTooShort,
		validation.FieldPhone:     validation.ReasonPhoneTooShort,
	}
	for field, reason := range want {
		got := errs[field]
		if len(got) != 1 || got[0] != reason {
			t.Errorf("%s errors = %v, want [%s]", field, got, reason)
		}
	}
	if len(errs[validation.FieldLastName]) != 0 {
		t.Errorf("unexpected last_name errors: %v", errs[validation.FieldLastName])
	}

	if n, _ := f.repo.Count(context.Background()); n != 0 {
		t.Fatalf("users persisted = %d, want 0", n)
	}
}

func TestRegisterSkipsUniquenessAfterShapeFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.usernameTaken = true

	in := validRegisterInput()
	in.Username = "a!"

	_, _, err := f.service.Register(context.Background(), in)
	errs := fieldErrors(t, err)

	got := errs[validation.FieldUsername]
	for _, reason := range got {
		if reason == validation.ReasonUsernameTaken {
			t.Fatalf("uniqueness reason reported alongside shape failure: %v", got)
		}
	}
}

func TestRegisterWithImage(t *testing.T) {
	f := newServiceFixture(t)

	in := validRegisterInput()
	src := pngBytes(t, 1600, 900)
	in.Image = &ImageUpload{Filename: "avatar.png", Size: int64(len(src)), Bytes: src}

	user, _, err := f.service.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	keys := user.Images.Keys()
	if len(keys) != 3 {
		t.Fatalf("image keys = %v, want 3", keys)
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, "users/"+user.ID+"/") {
			t.Errorf("key %q not scoped to user", key)
		}
		if !strings.HasSuffix(key, ".jpg") {
			t.Errorf("key %q not a jpeg rendition", key)
		}
		if _, ok := f.storage.objects[key]; !ok {
			t.Errorf("object %q not uploaded", key)
		}
	}
	if !strings.Contains(user.Images.Small, "_300x300") ||
		!strings.Contains(user.Images.Medium, "_800x800") ||
		!strings.Contains(user.Images.Large, "_1200x1200") {
		t.Fatalf("variant keys misordered: %+v", user.Images)
	}
}

func TestRegisterUndecodableImage(t *testing.T) {
	f := newServiceFixture(t)

	in := validRegisterInput()
	in.Image = &ImageUpload{Filename: "avatar.jpg", Size: 12, Bytes: []byte("not an image")}

	_, _, err := f.service.Register(context.Background(), in)
	errs := fieldErrors(t, err)

	got := errs[validation.FieldImage]
	if len(got) != 1 || got[0] != validation.ReasonImageUndecodable {
		t.Fatalf("image errors = %v", got)
	}
	if n, _ := f.repo.Count(context.Background()); n != 0 {
		t.Fatal("no user may be persisted when the image fails")
	}
}

func TestRegisterUploadFailureCleansUp(t *testing.T) {
	f := newServiceFixture(t)
	f.storage.putErr = errors.New("bucket unavailable")

	in := validRegisterInput()
	src := pngBytes(t, 400, 400)
	in.Image = &ImageUpload{Filename: "avatar.png", Size: int64(len(src)), Bytes: src}

	_, _, err := f.service.Register(context.Background(), in)
	if err == nil {
		t.Fatal("expected error when upload fails")
	}
	if n, _ := f.repo.Count(context.Background()); n != 0 {
		t.Fatal("no user may be persisted when uploads fail")
	}
	if len(f.storage.objects) != 0 {
		t.Fatalf("orphaned objects left behind: %v", f.storage.objects)
	}
}

func TestRegisterInsertRaceMapsToFieldError(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.createErr = repository.ErrDuplicateEmail

	_, _, err := f.service.Register(context.Background(), validRegisterInput())
	errs := fieldErrors(t, err)

	got := errs[validation.FieldEmail]
	if len(got) != 1 || got[0] != validation.ReasonEmailTaken {
		t.Fatalf("email errors = %v", got)
	}
}

func registerFixtureUser(t *testing.T, f *serviceFixture) *domain.User {
	t.Helper()

	user, _, err := f.service.Register(context.Background(), validRegisterInput())
	if err != nil {
		t.Fatalf("seed register: %v", err)
	}
	return user
}

func TestUpdateChangesOnlySuppliedFields(t *testing.T) {
	f := newServiceFixture(t)
	seeded := registerFixtureUser(t, f)

	email := "new@example.com"
	updated, err := f.service.Update(context.Background(), seeded.ID, UpdateInput{Email: &email})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if updated.Email != email {
		t.Fatalf("email = %q, want %q", updated.Email, email)
	}
	if updated.Username != seeded.Username {
		t.Fatal("username must be untouched")
	}
	if updated.FirstName != seeded.FirstName || updated.LastName != seeded.LastName {
		t.Fatal("names must be untouched")
	}

	if len(f.events.updated) != 1 {
		t.Fatalf("updated events = %d, want 1", len(f.events.updated))
	}
	changed := f.events.updated[0].ChangedFields
	if len(changed) != 1 || changed[0] != validation.FieldEmail {
		t.Fatalf("changed fields = %v", changed)
	}
}

func TestUpdateRejectsInvalidSuppliedField(t *testing.T) {
	f := newServiceFixture(t)
	seeded := registerFixtureUser(t, f)

	bad := "x"
	_, err := f.service.Update(context.Background(), seeded.ID, UpdateInput{Username: &bad})
	errs := fieldErrors(t, err)

	if len(errs[validation.FieldUsername]) == 0 {
		t.Fatalf("expected username errors, got %v", errs)
	}

	current, _ := f.repo.GetByID(context.Background(), seeded.ID)
	if current.Username != seeded.Username {
		t.Fatal("failed update must not persist")
	}
}

func TestUpdateNoChangeIsNoop(t *testing.T) {
	f := newServiceFixture(t)
	seeded := registerFixtureUser(t, f)

	same := seeded.Username
	updated, err := f.service.Update(context.Background(), seeded.ID, UpdateInput{Username: &same})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.UpdatedAt.Equal(seeded.UpdatedAt) {
		t.Fatal("identical value must not touch the row")
	}
	if len(f.events.updated) != 0 {
		t.Fatal("no event for a no-op update")
	}
}

func TestUpdateReplacesImageAndRemovesOldVariants(t *testing.T) {
	f := newServiceFixture(t)

	in := validRegisterInput()
	src := pngBytes(t, 640, 640)
	in.Image = &ImageUpload{Filename: "avatar.png", Size: int64(len(src)), Bytes: src}

	seeded, _, err := f.service.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("seed register: %v", err)
	}
	oldKeys := seeded.Images.Keys()

	replacement := pngBytes(t, 900, 500)
	updated, err := f.service.Update(context.Background(), seeded.ID, UpdateInput{
		Image: &ImageUpload{Filename: "next.png", Size: int64(len(replacement)), Bytes: replacement},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	for _, old := range oldKeys {
		for _, now := range updated.Images.Keys() {
			if old == now {
				t.Fatalf("old key %q survived replacement", old)
			}
		}
		if _, ok := f.storage.objects[old]; ok {
			t.Fatalf("old object %q not removed", old)
		}
	}
	if len(f.urls.invalidated) != 3 {
		t.Fatalf("invalidated keys = %v, want the 3 old ones", f.urls.invalidated)
	}
}

func TestUpdateMissingImageKeepsVariants(t *testing.T) {
	f := newServiceFixture(t)

	in := validRegisterInput()
	src := pngBytes(t, 640, 640)
	in.Image = &ImageUpload{Filename: "avatar.png", Size: int64(len(src)), Bytes: src}

	seeded, _, err := f.service.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("seed register: %v", err)
	}

	first := "Марія"
	updated, err := f.service.Update(context.Background(), seeded.ID, UpdateInput{FirstName: &first})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Images != seeded.Images {
		t.Fatal("absent image must keep existing variants")
	}
}

func TestUpdateNotFound(t *testing.T) {
	f := newServiceFixture(t)

	email := "x@example.com"
	_, err := f.service.Update(context.Background(), "missing", UpdateInput{Email: &email})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesRowObjectsAndCache(t *testing.T) {
	f := newServiceFixture(t)

	in := validRegisterInput()
	src := pngBytes(t, 640, 640)
	in.Image = &ImageUpload{Filename: "avatar.png", Size: int64(len(src)), Bytes: src}

	seeded, _, err := f.service.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("seed register: %v", err)
	}

	if err := f.service.Delete(context.Background(), seeded.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := f.repo.GetByID(context.Background(), seeded.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatal("row must be gone")
	}
	if len(f.storage.objects) != 0 {
		t.Fatalf("objects left behind: %v", f.storage.objects)
	}
	if len(f.urls.invalidated) != 3 {
		t.Fatalf("invalidated = %v, want 3 keys", f.urls.invalidated)
	}
	if len(f.events.deleted) != 1 {
		t.Fatalf("deleted events = %d, want 1", len(f.events.deleted))
	}
}

func TestDeleteNotFound(t *testing.T) {
	f := newServiceFixture(t)

	if err := f.service.Delete(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveImageURLsUsesCache(t *testing.T) {
	f := newServiceFixture(t)

	user := &domain.User{
		ID: "u1",
		Images: domain.ImageSet{
			Small:  "users/u1/a_300x300.jpg",
			Medium: "users/u1/a_800x800.jpg",
			Large:  "users/u1/a_1200x1200.jpg",
		},
	}

	first, err := f.service.ResolveImageURLs(context.Background(), user)
	if err != nil {
		t.Fatalf("ResolveImageURLs: %v", err)
	}
	if first.Small == "" || first.Medium == "" || first.Large == "" {
		t.Fatalf("unresolved urls: %+v", first)
	}

	if len(f.urls.entries) != 3 {
		t.Fatalf("cache entries = %d, want 3", len(f.urls.entries))
	}

	f.urls.entries[user.Images.Small] = "https://cached.local/small"
	second, err := f.service.ResolveImageURLs(context.Background(), user)
	if err != nil {
		t.Fatalf("ResolveImageURLs: %v", err)
	}
	if second.Small != "https://cached.local/small" {
		t.Fatalf("small url = %q, want cached value", second.Small)
	}
}

func TestResolveImageURLsWithoutImages(t *testing.T) {
	f := newServiceFixture(t)

	urls, err := f.service.ResolveImageURLs(context.Background(), &domain.User{ID: "u1"})
	if err != nil {
		t.Fatalf("ResolveImageURLs: %v", err)
	}
	if urls != (ImageURLs{}) {
		t.Fatalf("urls = %+v, want zero", urls)
	}
}
