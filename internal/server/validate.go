package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/evsync/internal/remote"
)

// requestValidate checks the same `binding` tags gin enforces on the HTTP
// routes, so in-process callers of the Ledger get identical rejections.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	requestValidate.SetTagName("binding")
	requestValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// checkRequest returns a 400 StatusError naming the first invalid field.
func checkRequest(req any) *remote.StatusError {
	if err := requestValidate.Struct(req); err != nil {
		return invalidRequest(err)
	}
	return nil
}

// invalidRequest converts a binding or validation error to a 400.
func invalidRequest(err error) *remote.StatusError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return badRequest(err.Error())
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return badRequest(fe.Field() + " is required")
	}
	return badRequest(fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
}
