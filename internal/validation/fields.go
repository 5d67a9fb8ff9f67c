package validation

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Reason strings are served to clients verbatim and match the legacy API
// word for word, so tests compare against them exactly.
const (
	ReasonUsernameTooShort = "Логін повинен містити мінімум 3 символи"
	ReasonUsernameCharset  = "Логін може містити лише літери, цифри та підкреслення"
	ReasonUsernameTaken    = "Користувач з таким логіном вже існує"

	ReasonEmailInvalid = "Введіть коректну електронну адресу"
	ReasonEmailTaken   = "Ця електронна пошта вже зареєстрована"

	ReasonPasswordTooShort = "Пароль повинен містити мінімум 8 символів"
	ReasonPasswordNoDigit  = "Пароль повинен містити хоча б одну цифру"
	ReasonPasswordNoLetter = "Пароль повинен містити хоча б одну літеру"
	ReasonPasswordNoUpper  = "Пароль повинен містити хоча б одну велику літеру"
	ReasonPasswordNoLower  = "Пароль повинен містити хоча б одну малу літеру"
	ReasonPasswordNoSymbol = "Пароль повинен містити хоча б один спеціальний символ"

	ReasonFirstNameTooShort = "Ім'я повинно містити мінімум 2 символи"
	ReasonFirstNameCharset  = "Ім'я може містити лише літери"
	ReasonLastNameTooShort  = "Прізвище повинно містити мінімум 2 символи"
	ReasonLastNameCharset   = "Прізвище може містити лише літери"

	ReasonPhoneTooShort = "Номер телефону повинен містити мінімум 10 цифр"
	ReasonPhoneTooLong  = "Номер телефону занадто довгий"

	ReasonImageTooLarge    = "Розмір зображення не повинен перевищувати 5MB"
	ReasonImageExtension   = "Підтримуються лише формати: JPG, JPEG, PNG, GIF, WEBP"
	ReasonImageUndecodable = "Завантажте коректне зображення"
	ReasonImageProcessing  = "Не вдалося обробити зображення"
)

// MaxImageBytes caps accepted avatar uploads.
const MaxImageBytes = 5 * 1024 * 1024

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	nameRe     = regexp.MustCompile(`^[А-Яа-яA-Za-z\s]+$`)

	passwordDigitRe  = regexp.MustCompile(`\d`)
	passwordLetterRe = regexp.MustCompile(`[a-zA-ZА-Яа-я]`)
	passwordUpperRe  = regexp.MustCompile(`[A-ZА-Я]`)
	passwordLowerRe  = regexp.MustCompile(`[a-zа-я]`)
	passwordSymbolRe = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\/?]`)

	phoneNonDigitRe = regexp.MustCompile(`[^\d]`)
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Username checks length and charset. Uniqueness is the caller's concern.
func Username(value string) error {
	if utf8.RuneCountInString(value) < 3 {
		return errors.New(ReasonUsernameTooShort)
	}
	if !usernameRe.MatchString(value) {
		return errors.New(ReasonUsernameCharset)
	}
	return nil
}

// Email checks the basic local@domain.tld shape.
func Email(value string) error {
	if !emailRe.MatchString(value) {
		return errors.New(ReasonEmailInvalid)
	}
	return nil
}

// Password enforces length plus the five character classes. Rules are
// reported first-violation-first, matching the legacy behavior.
func Password(value string) error {
	if utf8.RuneCountInString(value) < 8 {
		return errors.New(ReasonPasswordTooShort)
	}
	if !passwordDigitRe.MatchString(value) {
		return errors.New(ReasonPasswordNoDigit)
	}
	if !passwordLetterRe.MatchString(value) {
		return errors.New(ReasonPasswordNoLetter)
	}
	if !passwordUpperRe.MatchString(value) {
		return errors.New(ReasonPasswordNoUpper)
	}
	if !passwordLowerRe.MatchString(value) {
		return errors.New(ReasonPasswordNoLower)
	}
	if !passwordSymbolRe.MatchString(value) {
		return errors.New(ReasonPasswordNoSymbol)
	}
	return nil
}

// FirstName validates and returns the trimmed value.
func FirstName(value string) (string, error) {
	return personName(value, ReasonFirstNameTooShort, ReasonFirstNameCharset)
}

// LastName validates and returns the trimmed value.
func LastName(value string) (string, error) {
	return personName(value, ReasonLastNameTooShort, ReasonLastNameCharset)
}

func personName(value, tooShort, charset string) (string, error) {
	if utf8.RuneCountInString(value) < 2 {
		return "", errors.New(tooShort)
	}
	if !nameRe.MatchString(value) {
		return "", errors.New(charset)
	}
	return strings.TrimSpace(value), nil
}

// Phone accepts an empty value. A present value must keep 10 to 15 digits
// after stripping separators; the stored value stays unstripped.
func Phone(value string) error {
	if value == "" {
		return nil
	}
	digits := phoneNonDigitRe.ReplaceAllString(value, "")
	if len(digits) < 10 {
		return errors.New(ReasonPhoneTooShort)
	}
	if len(digits) > 15 {
		return errors.New(ReasonPhoneTooLong)
	}
	return nil
}

// Image checks upload size and filename extension. Decodability is the
// transcoder's concern.
func Image(filename string, size int64) error {
	if size > MaxImageBytes {
		return errors.New(ReasonImageTooLarge)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range imageExtensions {
		if ext == allowed {
			return nil
		}
	}
	return errors.New(ReasonImageExtension)
}
