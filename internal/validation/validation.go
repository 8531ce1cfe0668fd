// Package validation wraps validator/v10 so struct validation failures come back as VALIDATION errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ruralpay/walletcore/internal/apperr"
)

// Helper provides shared validation functionality
type Helper struct {
	validator *validator.Validate
}

// New creates a helper that reports fields by their json names.
func New() *Helper {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Helper{validator: v}
}

// Struct validates s. Field failures are attached under the "fields" meta key.
func (h *Helper) Struct(s any) error {
	err := h.validator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err, "failed to validate input")
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", fe.Tag())
	}
	return apperr.New(apperr.KindValidation, "invalid %s", strings.Join(sortedKeys(fields), ", ")).With("fields", fields)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
