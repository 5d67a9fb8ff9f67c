package domain

import "time"

// ImageSize identifies one of the derived avatar variants.
type ImageSize string

const (
	ImageSizeSmall  ImageSize = "small"
	ImageSizeMedium ImageSize = "medium"
	ImageSizeLarge  ImageSize = "large"
)

// Bounds returns the bounding box a variant of this size must fit within.
func (s ImageSize) Bounds() (width, height int) {
	switch s {
	case ImageSizeSmall:
		return 300, 300
	case ImageSizeMedium:
		return 800, 800
	case ImageSizeLarge:
		return 1200, 1200
	}
	return 0, 0
}

// ImageSizes lists the variants generated for every uploaded avatar, smallest first.
var ImageSizes = []ImageSize{ImageSizeSmall, ImageSizeMedium, ImageSizeLarge}

// ImageSet holds the object-storage keys of the three derived avatar variants.
// Either all three keys are set or all three are empty.
type ImageSet struct {
	Small  string
	Medium string
	Large  string
}

// IsZero reports whether no variant is attached.
func (s ImageSet) IsZero() bool {
	return s.Small == "" && s.Medium == "" && s.Large == ""
}

// Keys returns the populated object keys.
func (s ImageSet) Keys() []string {
	if s.IsZero() {
		return nil
	}
	return []string{s.Small, s.Medium, s.Large}
}

// User mirrors the persisted representation in the users table.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        *string
	Images       ImageSet
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
