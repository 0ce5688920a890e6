package protocol

import (
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/signalsfoundry/huntsync/core"
	"github.com/signalsfoundry/huntsync/model"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the protocol's custom tags
// registered. Error messages use JSON field names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("notblank", validators.NotBlank)
		_ = v.RegisterValidation("finite", isFinite)
		_ = v.RegisterValidation("latitude_nonneg", inRange(0, 90))
		_ = v.RegisterValidation("longitude_nonneg", inRange(0, 180))
		_ = v.RegisterValidation("area", isArea)
		_ = v.RegisterValidation("rfc3339", isRFC3339)
		validate = v
	})
	return validate
}

// Validate checks s against its struct tags.
func Validate(s any) error {
	return Validator().Struct(s)
}

func floatOf(fl validator.FieldLevel) (float64, bool) {
	f := fl.Field()
	for f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return 0, false
		}
		f = f.Elem()
	}
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		return f.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(f.Int()), true
	default:
		return 0, false
	}
}

func stringOf(fl validator.FieldLevel) (string, bool) {
	f := fl.Field()
	for f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return "", false
		}
		f = f.Elem()
	}
	if f.Kind() != reflect.String {
		return "", false
	}
	return f.String(), true
}

func isFinite(fl validator.FieldLevel) bool {
	v, ok := floatOf(fl)
	return ok && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Coordinates in this game are never negative.
func inRange(lo, hi float64) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v, ok := floatOf(fl)
		return ok && v >= lo && v <= hi
	}
}

func isArea(fl validator.FieldLevel) bool {
	s, ok := stringOf(fl)
	return ok && model.Area(s).Valid()
}

func isRFC3339(fl validator.FieldLevel) bool {
	s, ok := stringOf(fl)
	if !ok {
		return false
	}
	_, ok = core.ParseStartedAt(s)
	return ok
}
