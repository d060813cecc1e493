package handlers

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"approval-matrix-service/internal/models"
)

var registerOnce sync.Once

// registerValidators adds the enum tags used in request bindings.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("transaction_type", func(fl validator.FieldLevel) bool {
			return models.TransactionType(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("outcome", func(fl validator.FieldLevel) bool {
			return models.Outcome(fl.Field().String()).IsValid()
		})
	})
}
