package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dvloznov/p2ptransfers/internal/accountnumber"
)

const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names so messages match the request body
	vld.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := vld.RegisterValidation("account_number", func(fl validator.FieldLevel) bool {
		return accountnumber.Valid(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("register 'account_number': %w", err)
	}
	return vld, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// decodeAndValidate reads a JSON body into dst and checks its tags. The
// returned error is safe to show to the client.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	vld, err := getValidator()
	if err != nil {
		return err
	}
	if err := vld.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return formatValidationError(verrs[0])
		}
		return err
	}
	return nil
}

func formatValidationError(fe validator.FieldError) error {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("'%s' is required", field)
	case "max":
		return fmt.Errorf("'%s' must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Errorf("'%s' must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Errorf("'%s' must be at least %s", field, fe.Param())
	case "account_number":
		return fmt.Errorf("'%s' is not a valid account number", field)
	default:
		return fmt.Errorf("'%s' failed on '%s'", field, fe.Tag())
	}
}
