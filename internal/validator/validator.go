package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// trans is the singleton English translator for validation errors.
	trans     ut.Translator
	setupOnce sync.Once

	entryTokenPattern = regexp.MustCompile(`^[A-Za-z0-9]{4,20}$`)
	optionPattern     = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)
)

// customRules are the exam-specific tags with their error messages.
var customRules = []struct {
	tag     string
	fn      govalidator.Func
	message string
}{
	{"entrytoken", matches(entryTokenPattern), "{0} must be 4 to 20 letters or digits"},
	{"option", matches(optionPattern), "{0} must be an option label such as A or B"},
}

func matches(re *regexp.Regexp) govalidator.Func {
	return func(fl govalidator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// Setup registers the validator with English translations and the exam
// rules on Gin's binding engine. Safe to call more than once.
func Setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}

		// Use JSON tag name for field names in error messages.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		for _, rule := range customRules {
			_ = v.RegisterValidation(rule.tag, rule.fn)
			_ = v.RegisterTranslation(rule.tag, trans,
				func(ut ut.Translator) error { return ut.Add(rule.tag, rule.message, true) },
				func(ut ut.Translator, fe govalidator.FieldError) string {
					msg, _ := ut.T(fe.Tag(), fe.Field())
					return msg
				})
		}
	})
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name to human-readable error message. JSON type mismatches are
// reported on their field; anything else lands under "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		fields[typeErr.Field] = fmt.Sprintf("%s has the wrong type, expected %s", typeErr.Field, typeErr.Type.Kind())
		return fields
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		fields["detail"] = fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// DecodeFrame unmarshals a WebSocket frame into dst and validates its
// binding tags. Returns nil on success or a translated field error map.
func DecodeFrame(data []byte, dst interface{}) map[string]string {
	if err := json.Unmarshal(data, dst); err != nil {
		return TranslateErrors(err)
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
