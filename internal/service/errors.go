package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// validate is shared; validator caches struct metadata and is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Decimals validate as their string form so tags apply to them.
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		if d, ok := f.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	if err := v.RegisterValidation("money", validMoney); err != nil {
		panic(err)
	}
	return v
}

// validMoney accepts a non-negative amount with at most two decimal places.
func validMoney(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return !d.IsNegative() && domain.HasMoneyScale(d)
}

// validateParams runs struct tag validation and converts failures to a
// domain.ValidationError keyed by JSON field path.
func validateParams(op string, params any) error {
	err := validate.Struct(params)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.Internal(err, op, "Failed to validate request")
	}

	var out error
	for _, fe := range fieldErrs {
		out = domain.AddFieldError(out, fieldPath(fe), fieldMessage(fe))
	}
	out.(*domain.ValidationError).Op = op
	return out
}

// fieldPath drops the struct name prefix: "PlaceOrderParams.items[0].quantity" -> "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "money":
		return "must be a non-negative amount with at most 2 decimal places"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	default:
		return "is invalid"
	}
}

// resultLabel classifies an operation outcome for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsRetryable(err):
		return "conflict"
	case domain.IsCode(err, domain.EINTERNAL):
		return "error"
	default:
		return "rejected"
	}
}
