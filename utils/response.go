package utils

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/kataras/iris/v12"
)

var Validate = validator.New()

func JSONError(ctx iris.Context, status int, code, message string) {
	JSONErrorWithDetails(ctx, status, code, message, nil)
}

// JSONErrorWithDetails writes {"error", "message"} plus any extra keys and stops the handler chain.
func JSONErrorWithDetails(ctx iris.Context, status int, code, message string, details iris.Map) {
	body := iris.Map{"error": code, "message": message}
	for k, v := range details {
		body[k] = v
	}
	ctx.StopWithJSON(status, body)
}

func CreateError(statusCode int, code, message string, ctx iris.Context) {
	JSONError(ctx, statusCode, code, message)
}

func CreateInternalServerError(ctx iris.Context) {
	CreateError(iris.StatusInternalServerError, "internal_error", "Internal Server Error", ctx)
}

func CreateNotFound(ctx iris.Context) {
	CreateError(iris.StatusNotFound, "not_found", "Not Found", ctx)
}

func HandleValidationErrors(err error, ctx iris.Context) {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		CreateError(iris.StatusBadRequest, "bad_request", err.Error(), ctx)
		return
	}

	fields := make([]iris.Map, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields = append(fields, iris.Map{
			"field": fieldErr.Field(),
			"rule":  fieldErr.Tag(),
			"param": fieldErr.Param(),
		})
	}
	JSONErrorWithDetails(ctx, iris.StatusBadRequest, "validation_failed", "Validation failed", iris.Map{"fields": fields})
}
