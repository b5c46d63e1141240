package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps request bodies. Every form here is a handful of short
// strings.
const maxBodyBytes = 64 << 10

// REQUEST DTOs:
// Each endpoint decodes into its own struct and validates it with
// go-playground/validator before anything reaches the service layer.
// Browsers post forms, scripts post JSON; decodeRequest accepts both, so
// every DTO knows how to fill itself from url.Values.
//
// Password equality is NOT a validator rule. The service owns that check so
// the mismatch error is the same whichever client calls it.

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Email          string `json:"email"           validate:"required,email,max=254"`
	Password       string `json:"password"        validate:"required,max=72"`
	PasswordRepeat string `json:"password_repeat" validate:"required"`
}

func (req *RegisterRequest) bindForm(v url.Values) {
	req.Email = v.Get("email")
	req.Password = v.Get("password")
	req.PasswordRepeat = v.Get("password_repeat")
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (req *LoginRequest) bindForm(v url.Values) {
	req.Email = v.Get("email")
	req.Password = v.Get("password")
}

// ResendRequest is the body of POST /register/resend.
type ResendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (req *ResendRequest) bindForm(v url.Values) {
	req.Email = v.Get("email")
}

// UsernameChangeRequest is the body of POST /account/username-change.
type UsernameChangeRequest struct {
	Username       string `json:"username"        validate:"required"`
	UsernameRepeat string `json:"username_repeat" validate:"required"`
}

func (req *UsernameChangeRequest) bindForm(v url.Values) {
	req.Username = v.Get("username")
	req.UsernameRepeat = v.Get("username_repeat")
}

// formBinder is implemented by every request DTO.
type formBinder interface {
	bindForm(url.Values)
}

// validate is safe for concurrent use and caches struct metadata, so one
// instance serves every request.
var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report JSON field names ("password_repeat") instead of Go names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// errBadBody marks a body that could not be decoded at all.
var errBadBody = errors.New("invalid request body")

// decodeRequest fills dst from a JSON or form body and validates it.
//
// Returns errBadBody (wrapped) for unreadable bodies and a
// validator.ValidationErrors for well-formed bodies that break a rule.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst formBinder) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return fmt.Errorf("%w: %v", errBadBody, err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("%w: %v", errBadBody, err)
		}
		dst.bindForm(r.PostForm)
	}

	return validate.Struct(dst)
}

// validationMessage turns a validator error into one readable sentence.
func validationMessage(err error) (field, message string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "", "invalid request"
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field(), fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fe.Field(), fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "max":
		return fe.Field(), fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fe.Field(), fmt.Sprintf("%s is invalid", fe.Field())
	}
}
