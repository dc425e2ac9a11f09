package validator

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MaxContentLength = 4000
	MaxAttachments   = 10
	maxEmojiLength   = 64
)

var customEmojiRegex = regexp.MustCompile(`^[A-Za-z0-9_]{2,32}:[0-9]{1,20}$`)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	err := v.RegisterValidation("presence_status", func(fl validator.FieldLevel) bool {
		return Status(models.Status(fl.Field().String())) == nil
	})
	if err != nil {
		panic(err)
	}

	return v
}

// Struct validates request bodies by their `validate` tags. The returned error
// wraps errs.ErrInvalid and lists "Field:tag" pairs.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return err
	}

	fields := make([]string, 0, len(validateErrs))
	for _, e := range validateErrs {
		fields = append(fields, fmt.Sprintf("%s:%s", e.Field(), e.Tag()))
	}
	return errs.Wrap(errs.ErrInvalid, "%s", strings.Join(fields, ","))
}

func MessageContent(content string, attachments int) error {
	if attachments > MaxAttachments {
		return errs.Wrap(errs.ErrInvalid, "too_many_attachments")
	}

	if !utf8.ValidString(content) {
		return errs.Wrap(errs.ErrInvalid, "bad_encoding")
	}

	if utf8.RuneCountInString(content) > MaxContentLength {
		return errs.Wrap(errs.ErrInvalid, "long_content")
	}

	if strings.TrimSpace(content) == "" && attachments == 0 {
		return errs.Wrap(errs.ErrInvalid, "empty_message")
	}

	return nil
}

// Emoji accepts a unicode emoji sequence or a custom emoji in "name:id" form.
func Emoji(emoji string) error {
	if emoji == "" {
		return errs.Wrap(errs.ErrInvalid, "empty_emoji")
	}

	if len(emoji) > maxEmojiLength {
		return errs.Wrap(errs.ErrInvalid, "long_emoji")
	}

	if !utf8.ValidString(emoji) {
		return errs.Wrap(errs.ErrInvalid, "bad_encoding")
	}

	if strings.Contains(emoji, ":") {
		if !customEmojiRegex.MatchString(emoji) {
			return errs.Wrap(errs.ErrInvalid, "bad_custom_emoji")
		}
		return nil
	}

	// keycap sequences like 1️⃣ carry an ASCII base character
	keycap := strings.ContainsRune(emoji, '\u20e3')

	for _, r := range emoji {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' {
			return errs.Wrap(errs.ErrInvalid, "bad_emoji")
		}
		if !keycap && r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return errs.Wrap(errs.ErrInvalid, "bad_emoji")
		}
	}

	return nil
}

func Status(status models.Status) error {
	if !slices.Contains(models.ExplicitStatuses, status) {
		return errs.Wrap(errs.ErrInvalid, "unknown_status")
	}
	return nil
}
