package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atbmarket/account-service/internal/core/domain"
	"github.com/atbmarket/account-service/internal/core/port"
	"github.com/atbmarket/account-service/internal/infra/security"
	"github.com/atbmarket/account-service/internal/media"
	"github.com/atbmarket/account-service/internal/repository"
	"github.com/atbmarket/account-service/internal/validation"
)

const (
	defaultProcessTimeout = 30 * time.Second
	defaultPresignTTL     = time.Hour
	defaultURLCacheTTL    = 30 * time.Minute
)

// ImageUpload carries a raw avatar upload through validation and transcoding.
type ImageUpload struct {
	Filename string
	Size     int64
	Bytes    []byte
}

// RegisterInput is the immutable registration payload.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Image     *ImageUpload
}

// UpdateInput carries a partial profile update. Nil fields are left
// untouched; a nil Image keeps the existing variants (there is no removal
// path).
type UpdateInput struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	Phone     *string
	Image     *ImageUpload
}

// ImageURLs resolves the stored variant keys of one user to retrievable URLs.
type ImageURLs struct {
	Small  string
	Medium string
	Large  string
}

// AccountServiceConfig bounds avatar processing and URL resolution.
type AccountServiceConfig struct {
	ProcessTimeout time.Duration
	PresignTTL     time.Duration
	URLCacheTTL    time.Duration
}

// AccountService orchestrates field validation, avatar transcoding, and
// persistence for the account lifecycle. Both Register and Update are
// two-phase: validate everything first, mutate nothing until every supplied
// field passed.
type AccountService struct {
	users      port.UserRepository
	storage    port.ObjectStorage
	urls       port.URLCache
	events     port.EventPublisher
	tokens     port.TokenIssuer
	transcoder *media.Transcoder
	logger     *zap.Logger

	processTimeout time.Duration
	presignTTL     time.Duration
	urlCacheTTL    time.Duration
}

// NewAccountService constructs the account service.
func NewAccountService(
	users port.UserRepository,
	storage port.ObjectStorage,
	urls port.URLCache,
	events port.EventPublisher,
	tokens port.TokenIssuer,
	transcoder *media.Transcoder,
	cfg AccountServiceConfig,
	log *zap.Logger,
) *AccountService {
	if transcoder == nil {
		transcoder = media.NewTranscoder(media.DefaultJPEGQuality)
	}
	if events == nil {
		events = noopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	if cfg.URLCacheTTL <= 0 || cfg.URLCacheTTL > cfg.PresignTTL {
		cfg.URLCacheTTL = cfg.PresignTTL / 2
		if cfg.URLCacheTTL > defaultURLCacheTTL {
			cfg.URLCacheTTL = defaultURLCacheTTL
		}
	}

	return &AccountService{
		users:          users,
		storage:        storage,
		urls:           urls,
		events:         events,
		tokens:         tokens,
		transcoder:     transcoder,
		logger:         log,
		processTimeout: cfg.ProcessTimeout,
		presignTTL:     cfg.PresignTTL,
		urlCacheTTL:    cfg.URLCacheTTL,
	}
}

// fieldCheck pairs a field name with its validator. The record builder walks
// this list explicitly; no validator is discovered by naming convention.
type fieldCheck struct {
	field string
	run   func() error
}

// Register validates every field, then commits: hash the credential,
// generate and upload the three avatar variants, insert the row, and issue a
// token pair. A failure before the insert leaves no record and no orphaned
// objects.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*domain.User, port.TokenPair, error) {
	errs := validation.Errors{}

	firstName := in.FirstName
	lastName := in.LastName

	checks := []fieldCheck{
		{validation.FieldUsername, func() error { return validation.Username(in.Username) }},
		{validation.FieldEmail, func() error { return validation.Email(in.Email) }},
		{validation.FieldPassword, func() error { return validation.Password(in.Password) }},
		{validation.FieldFirstName, func() error {
			trimmed, err := validation.FirstName(in.FirstName)
			if err == nil {
				firstName = trimmed
			}
			return err
		}},
		{validation.FieldLastName, func() error {
			trimmed, err := validation.LastName(in.LastName)
			if err == nil {
				lastName = trimmed
			}
			return err
		}},
		{validation.FieldPhone, func() error { return validation.Phone(in.Phone) }},
		{validation.FieldImage, func() error {
			if in.Image == nil {
				return nil
			}
			return validation.Image(in.Image.Filename, in.Image.Size)
		}},
	}

	for _, check := range checks {
		if err := check.run(); err != nil {
			errs.Add(check.field, err.Error())
		}
	}

	// Uniqueness joins the same field-keyed map; skip lookups for values
	// that already failed their shape checks.
	if len(errs[validation.FieldUsername]) == 0 {
		taken, err := s.users.ExistsByUsername(ctx, in.Username)
		if err != nil {
			return nil, port.TokenPair{}, fmt.Errorf("check username uniqueness: %w", err)
		}
		if taken {
			errs.Add(validation.FieldUsername, validation.ReasonUsernameTaken)
		}
	}
	if len(errs[validation.FieldEmail]) == 0 {
		taken, err := s.users.ExistsByEmail(ctx, in.Email)
		if err != nil {
			return nil, port.TokenPair{}, fmt.Errorf("check email uniqueness: %w", err)
		}
		if taken {
			errs.Add(validation.FieldEmail, validation.ReasonEmailTaken)
		}
	}

	if !errs.Empty() {
		return nil, port.TokenPair{}, errs
	}

	passwordHash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, port.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Phone != "" {
		phone := in.Phone
		user.Phone = &phone
	}

	if in.Image != nil {
		images, err := s.generateVariants(ctx, user.ID, in.Image)
		if err != nil {
			return nil, port.TokenPair{}, err
		}
		user.Images = images
	}

	if err := s.users.Create(ctx, user); err != nil {
		s.removeObjects(user.Images.Keys())
		if dup := conflictErrors(err); dup != nil {
			return nil, port.TokenPair{}, dup
		}
		return nil, port.TokenPair{}, fmt.Errorf("insert user: %w", err)
	}

	pair, err := s.tokens.IssueFor(ctx, user.ID)
	if err != nil {
		return nil, port.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}

	s.publishRegistered(ctx, user)

	return &user, pair, nil
}

// Get loads one user by id.
func (s *AccountService) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// List returns users with pagination.
func (s *AccountService) List(ctx context.Context, filter port.UserFilter) ([]domain.User, error) {
	return s.users.List(ctx, filter)
}

// Count returns the total number of registered users.
func (s *AccountService) Count(ctx context.Context) (int, error) {
	return s.users.Count(ctx)
}

// Update applies a partial profile change. Only supplied fields are
// validated; nothing is persisted until every supplied field passed. A
// supplied image regenerates all three variants; an absent one leaves them
// untouched.
func (s *AccountService) Update(ctx context.Context, id string, in UpdateInput) (*domain.User, error) {
	existing, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	errs := validation.Errors{}

	firstName := existing.FirstName
	lastName := existing.LastName

	checks := []fieldCheck{
		{validation.FieldUsername, func() error {
			if in.Username == nil {
				return nil
			}
			return validation.Username(*in.Username)
		}},
		{validation.FieldEmail, func() error {
			if in.Email == nil {
				return nil
			}
			return validation.Email(*in.Email)
		}},
		{validation.FieldFirstName, func() error {
			if in.FirstName == nil {
				return nil
			}
			trimmed, err := validation.FirstName(*in.FirstName)
			if err == nil {
				firstName = trimmed
			}
			return err
		}},
		{validation.FieldLastName, func() error {
			if in.LastName == nil {
				return nil
			}
			trimmed, err := validation.LastName(*in.LastName)
			if err == nil {
				lastName = trimmed
			}
			return err
		}},
		{validation.FieldPhone, func() error {
			if in.Phone == nil {
				return nil
			}
			return validation.Phone(*in.Phone)
		}},
		{validation.FieldImage, func() error {
			if in.Image == nil {
				return nil
			}
			return validation.Image(in.Image.Filename, in.Image.Size)
		}},
	}

	for _, check := range checks {
		if err := check.run(); err != nil {
			errs.Add(check.field, err.Error())
		}
	}

	if in.Username != nil && *in.Username != existing.Username && len(errs[validation.FieldUsername]) == 0 {
		taken, err := s.users.ExistsByUsername(ctx, *in.Username)
		if err != nil {
			return nil, fmt.Errorf("check username uniqueness: %w", err)
		}
		if taken {
			errs.Add(validation.FieldUsername, validation.ReasonUsernameTaken)
		}
	}
	if in.Email != nil && *in.Email != existing.Email && len(errs[validation.FieldEmail]) == 0 {
		taken, err := s.users.ExistsByEmail(ctx, *in.Email)
		if err != nil {
			return nil, fmt.Errorf("check email uniqueness: %w", err)
		}
		if taken {
			errs.Add(validation.FieldEmail, validation.ReasonEmailTaken)
		}
	}

	if !errs.Empty() {
		return nil, errs
	}

	updated := *existing
	changed := make([]string, 0, 6)

	if in.Username != nil && *in.Username != existing.Username {
		updated.Username = *in.Username
		changed = append(changed, validation.FieldUsername)
	}
	if in.Email != nil && *in.Email != existing.Email {
		updated.Email = *in.Email
		changed = append(changed, validation.FieldEmail)
	}
	if in.FirstName != nil && firstName != existing.FirstName {
		updated.FirstName = firstName
		changed = append(changed, validation.FieldFirstName)
	}
	if in.LastName != nil && lastName != existing.LastName {
		updated.LastName = lastName
		changed = append(changed, validation.FieldLastName)
	}
	if in.Phone != nil {
		if *in.Phone == "" {
			if updated.Phone != nil {
				updated.Phone = nil
				changed = append(changed, validation.FieldPhone)
			}
		} else if updated.Phone == nil || *updated.Phone != *in.Phone {
			phone := *in.Phone
			updated.Phone = &phone
			changed = append(changed, validation.FieldPhone)
		}
	}

	previousImages := existing.Images
	if in.Image != nil {
		images, err := s.generateVariants(ctx, updated.ID, in.Image)
		if err != nil {
			return nil, err
		}
		updated.Images = images
		changed = append(changed, validation.FieldImage)
	}

	if len(changed) == 0 {
		return existing, nil
	}

	updated.UpdatedAt = time.Now().UTC()

	if err := s.users.Update(ctx, updated); err != nil {
		if in.Image != nil {
			s.removeObjects(updated.Images.Keys())
		}
		if dup := conflictErrors(err); dup != nil {
			return nil, dup
		}
		return nil, err
	}

	if in.Image != nil && !previousImages.IsZero() {
		s.removeObjects(previousImages.Keys())
		s.invalidateURLs(ctx, previousImages.Keys())
	}

	s.publishUpdated(ctx, updated.ID, changed)

	return &updated, nil
}

// Delete removes the account row and its stored avatar variants.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	if !user.Images.IsZero() {
		s.removeObjects(user.Images.Keys())
		s.invalidateURLs(ctx, user.Images.Keys())
	}

	s.publishDeleted(ctx, *user)

	return nil
}

// ResolveImageURLs maps stored variant keys to presigned URLs, consulting
// the URL cache first.
func (s *AccountService) ResolveImageURLs(ctx context.Context, user *domain.User) (ImageURLs, error) {
	if user == nil || user.Images.IsZero() {
		return ImageURLs{}, nil
	}

	small, err := s.resolveURL(ctx, user.Images.Small)
	if err != nil {
		return ImageURLs{}, err
	}
	medium, err := s.resolveURL(ctx, user.Images.Medium)
	if err != nil {
		return ImageURLs{}, err
	}
	large, err := s.resolveURL(ctx, user.Images.Large)
	if err != nil {
		return ImageURLs{}, err
	}

	return ImageURLs{Small: small, Medium: medium, Large: large}, nil
}

func (s *AccountService) resolveURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	if s.urls != nil {
		if url, ok, err := s.urls.Get(ctx, key); err == nil && ok {
			return url, nil
		} else if err != nil {
			s.logger.Warn("url cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	url, err := s.storage.PresignedURL(ctx, key, s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}

	if s.urls != nil {
		if err := s.urls.Set(ctx, key, url, s.urlCacheTTL); err != nil {
			s.logger.Warn("url cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return url, nil
}

// generateVariants transcodes the upload into the three bounded sizes and
// uploads them, all within the processing deadline. The three renditions are
// independent and run in parallel. On any failure every uploaded object is
// removed again.
func (s *AccountService) generateVariants(ctx context.Context, userID string, img *ImageUpload) (domain.ImageSet, error) {
	tctx, cancel := context.WithTimeout(ctx, s.processTimeout)
	defer cancel()

	keys := make([]string, len(domain.ImageSizes))

	g, gctx := errgroup.WithContext(tctx)
	for i, size := range domain.ImageSizes {
		i, size := i, size
		g.Go(func() error {
			width, height := size.Bounds()
			variant, err := s.transcoder.Transcode(img.Bytes, width, height)
			if err != nil {
				return err
			}
			if err := gctx.Err(); err != nil {
				return err
			}

			key := fmt.Sprintf("users/%s/%s", userID, variant.Name)
			if err := s.storage.Put(gctx, key, bytes.NewReader(variant.Bytes), int64(len(variant.Bytes)), variant.ContentType); err != nil {
				return err
			}
			keys[i] = key
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		uploaded := make([]string, 0, len(keys))
		for _, key := range keys {
			if key != "" {
				uploaded = append(uploaded, key)
			}
		}
		s.removeObjects(uploaded)
		return domain.ImageSet{}, imageFailure(err)
	}

	return domain.ImageSet{
		Small:  keys[0],
		Medium: keys[1],
		Large:  keys[2],
	}, nil
}

// removeObjects is best effort; a stray object is preferable to failing the
// request that already rolled back.
func (s *AccountService) removeObjects(keys []string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, key := range keys {
		if err := s.storage.Remove(ctx, key); err != nil {
			s.logger.Warn("remove stored object failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *AccountService) invalidateURLs(ctx context.Context, keys []string) {
	if s.urls == nil || len(keys) == 0 {
		return
	}
	if err := s.urls.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("invalidate cached urls failed", zap.Error(err))
	}
}

func (s *AccountService) publishRegistered(ctx context.Context, user domain.User) {
	event := domain.UserRegisteredEvent{
		EventID:      uuid.NewString(),
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Phone:        user.Phone,
		HasImage:     !user.Images.IsZero(),
		RegisteredAt: user.CreatedAt,
	}
	if err := s.events.PublishUserRegistered(ctx, event); err != nil {
		s.logger.Warn("publish user registered failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *AccountService) publishUpdated(ctx context.Context, userID string, changed []string) {
	event := domain.UserUpdatedEvent{
		EventID:       uuid.NewString(),
		UserID:        userID,
		ChangedFields: changed,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.events.PublishUserUpdated(ctx, event); err != nil {
		s.logger.Warn("publish user updated failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *AccountService) publishDeleted(ctx context.Context, user domain.User) {
	event := domain.UserDeletedEvent{
		EventID:   uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		DeletedAt: time.Now().UTC(),
	}
	if err := s.events.PublishUserDeleted(ctx, event); err != nil {
		s.logger.Warn("publish user deleted failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// conflictErrors maps a unique-violation race back into the field-keyed
// error contract.
func conflictErrors(err error) validation.Errors {
	switch {
	case errors.Is(err, repository.ErrDuplicateUsername):
		return validation.Errors{validation.FieldUsername: {validation.ReasonUsernameTaken}}
	case errors.Is(err, repository.ErrDuplicateEmail):
		return validation.Errors{validation.FieldEmail: {validation.ReasonEmailTaken}}
	}
	return nil
}

// imageFailure translates transcoding errors into image-field reasons.
func imageFailure(err error) error {
	switch {
	case errors.Is(err, media.ErrUnsupportedFormat):
		return validation.Errors{validation.FieldImage: {validation.ReasonImageUndecodable}}
	case errors.Is(err, media.ErrEncodeFailed),
		errors.Is(err, context.DeadlineExceeded):
		return validation.Errors{validation.FieldImage: {validation.ReasonImageProcessing}}
	}
	return fmt.Errorf("process image: %w", err)
}

type noopPublisher struct{}

func (noopPublisher) PublishUserRegistered(context.Context, domain.UserRegisteredEvent) error {
	return nil
}
func (noopPublisher) PublishUserUpdated(context.Context, domain.UserUpdatedEvent) error { return nil }
func (noopPublisher) PublishUserDeleted(context.Context, domain.UserDeletedEvent) error { return nil }
