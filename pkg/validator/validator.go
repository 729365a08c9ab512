package validator

import (
	"opsdesk-backend/internal/models"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Init registers custom validations on gin's binding engine.
func Init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	v.RegisterValidation("notiftype", func(fl validator.FieldLevel) bool {
		return models.ValidNotificationType(fl.Field().String())
	})

	v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		p := fl.Field().Int()
		return p >= models.PriorityLow && p <= models.PriorityUrgent
	})
}
