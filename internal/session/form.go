package session

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notebox/internal/apperr"
	"github.com/starford/notebox/internal/models"
)

// CreateForm is the user input of the create flow.
type CreateForm struct {
	Name        string
	Description string
	// Image is optional. A file without a name counts as no file, the way
	// browsers submit an untouched file input.
	Image *models.ImageFile
}

// Validate checks the required fields.
func (f *CreateForm) Validate() error {
	err := validation.ValidateStruct(f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Description, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}

// HasImage reports whether a file was attached.
func (f *CreateForm) HasImage() bool {
	return f.Image != nil && f.Image.Filename != ""
}

// Reset clears the form after a successful submit.
func (f *CreateForm) Reset() {
	*f = CreateForm{}
}
