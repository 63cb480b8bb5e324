package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const maxBodyBytes = 1 << 20

// ValidationError reports a malformed or invalid request body.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type validatorSvc struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// getValidator returns the shared validator, using json tag names in messages.
func getValidator() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		trans, _ := ut.New(enLoc, enLoc).GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vSvc = &validatorSvc{validate: v, translator: trans}
	})
	return vSvc
}

// decodeJSON reads one JSON object into T, rejecting unknown fields and
// trailing data, then validates it.
func decodeJSON[T any](r *http.Request) (T, error) {
	var dst T
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dst, &ValidationError{Message: "empty body"}
		}
		return dst, &ValidationError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return dst, &ValidationError{Message: "unexpected trailing data"}
	}

	svc := getValidator()
	if err := svc.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return dst, &ValidationError{Field: verrs[0].Field(), Message: verrs[0].Translate(svc.translator)}
		}
		return dst, &ValidationError{Message: err.Error()}
	}
	return dst, nil
}
