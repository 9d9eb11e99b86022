package handler

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/tenantstack/tenantstack/internal/model"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nameRe  = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.]+$`)

	pwLower   = regexp.MustCompile(`[a-z]`)
	pwUpper   = regexp.MustCompile(`[A-Z]`)
	pwDigit   = regexp.MustCompile(`\d`)
	pwSpecial = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\/?]`)
)

func validateEmail(email string) *model.FieldError {
	if len(email) < 5 || len(email) > 255 {
		return &model.FieldError{Field: "email", Message: "Email must be between 5 and 255 characters"}
	}
	if !emailRe.MatchString(email) {
		return &model.FieldError{Field: "email", Message: "Please provide a valid email address"}
	}
	return nil
}

func validatePassword(password string) *model.FieldError {
	if len(password) < 8 || len(password) > 128 {
		return &model.FieldError{Field: "password", Message: "Password must be between 8 and 128 characters"}
	}
	if !pwLower.MatchString(password) || !pwUpper.MatchString(password) ||
		!pwDigit.MatchString(password) || !pwSpecial.MatchString(password) {
		return &model.FieldError{
			Field:   "password",
			Message: "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character",
		}
	}
	return nil
}

func validateOrganizationName(name string) *model.FieldError {
	if len(name) < 2 || len(name) > 100 {
		return &model.FieldError{Field: "organizationName", Message: "Organization name must be between 2 and 100 characters"}
	}
	if !nameRe.MatchString(name) {
		return &model.FieldError{
			Field:   "organizationName",
			Message: "Organization name can only contain letters, numbers, spaces, hyphens, underscores, and periods",
		}
	}
	return nil
}

func validateResourceName(field, label, name string) *model.FieldError {
	if len(name) < 1 || len(name) > 100 {
		return &model.FieldError{Field: field, Message: label + " must be between 1 and 100 characters"}
	}
	if !nameRe.MatchString(name) {
		return &model.FieldError{
			Field:   field,
			Message: label + " can only contain letters, numbers, spaces, hyphens, underscores, and periods",
		}
	}
	return nil
}

func validateProjectName(name string) *model.FieldError {
	return validateResourceName("name", "Project name", name)
}

func validateKeyName(name string) *model.FieldError {
	return validateResourceName("name", "API key name", name)
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
