package models

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength shortest vault password accepted
const MinPasswordLength = 6

// Validation messages shown to users
const (
	MsgNameRequired       = "Name can't be empty."
	MsgAttachmentRequired = "At least one attachment is required."
	MsgTagRequired        = "At least one tag is required."
	MsgPasswordTooShort   = "Password must be at least 6 characters."
	MsgInvalidImportIP    = "Invalid IP address. Only local IP starting with 127 or 192 is allowed."
)

var localIPPattern = regexp.MustCompile(`^(127|192)\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"media_mime", validateMediaMimeType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"vault_event_type", validateVaultEventType,
	); err != nil {
		return err
	}

	return nil
}

// NewValidator define a validator with the custom validations registered
func NewValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := RegisterWithValidator(v); err != nil {
		return nil, fmt.Errorf("failed to register custom validations [%w]", err)
	}
	return v, nil
}

func validateMediaMimeType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	_, err := MediaKindOf(fl.Field().String())
	return err == nil
}

func validateVaultEventType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch VaultEventTypeENUMType(fl.Field().String()) {
	case VaultEventTypeEntryCreated:
		fallthrough
	case VaultEventTypeEntryUpdated:
		fallthrough
	case VaultEventTypeEntryDeleted:
		fallthrough
	case VaultEventTypeExported:
		fallthrough
	case VaultEventTypeImported:
		return true
	}
	return false
}

// ViolationError a list of human readable validation failures
type ViolationError struct {
	Violations []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, " "))
}

// violationsOrNil wrap messages into a ViolationError when there are any
func violationsOrNil(messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	return &ViolationError{Violations: messages}
}

/*
Violations convert a struct validation failure into human readable messages. Errors which
did not come from the validator are returned as a single message.

	@param err error - validation error
	@returns messages
*/
func Violations(err error) []string {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	messages := []string{}
	for _, fe := range fieldErrs {
		messages = append(messages, violationMessage(fe))
	}
	return messages
}

func violationMessage(fe validator.FieldError) string {
	switch {
	case fe.StructField() == "Name" && fe.Tag() == "required":
		return MsgNameRequired
	case strings.HasPrefix(fe.StructField(), "Tags[") && fe.Tag() == "max":
		return fmt.Sprintf("Tag '%v' is longer than %d characters.", fe.Value(), MaxTagLength)
	case strings.HasPrefix(fe.StructField(), "Tags["):
		return fmt.Sprintf("Tag '%v' is not valid.", fe.Value())
	case fe.StructField() == "MimeType":
		return fmt.Sprintf("Unsupported media type '%v'.", fe.Value())
	case fe.StructField() == "Size":
		return "Attachment content can't be empty."
	case fe.StructField() == "Hashsum":
		return "Attachment content digest is missing."
	case fe.StructField() == "Content":
		return "Attachment content is missing."
	}
	return fe.Error()
}

/*
CheckEntry validate an entry before it is stored

	@param v *validator.Validate - validator with custom validations registered
	@param entry Entry - the entry
	@param firstSave bool - whether the entry is being stored the first time
	@returns ViolationError when not valid
*/
func CheckEntry(v *validator.Validate, entry Entry, firstSave bool) error {
	messages := []string{}
	if firstSave && len(entry.Attachments) == 0 {
		messages = append(messages, MsgAttachmentRequired)
	}
	messages = append(messages, Violations(v.Struct(&entry))...)
	return violationsOrNil(messages)
}

/*
CheckEntryDraft validate an entry being composed by a user. On top of CheckEntry, at
least one tag is required.

	@param v *validator.Validate - validator with custom validations registered
	@param entry Entry - the entry
	@returns ViolationError when not valid
*/
func CheckEntryDraft(v *validator.Validate, entry Entry) error {
	messages := []string{}
	if err := CheckEntry(v, entry, !entry.IsPersisted); err != nil {
		var violations *ViolationError
		if !errors.As(err, &violations) {
			return err
		}
		messages = append(messages, violations.Violations...)
	}
	if len(entry.Tags) == 0 {
		messages = append(messages, MsgTagRequired)
	}
	return violationsOrNil(messages)
}

/*
CheckPassword validate a vault password

	@param password string - the password
	@returns ViolationError when not valid
*/
func CheckPassword(password string) error {
	if len(password) < MinPasswordLength {
		return &ViolationError{Violations: []string{MsgPasswordTooShort}}
	}
	return nil
}

/*
CheckImportTarget validate the peer address and password used to import a vault

	@param v *validator.Validate - validator
	@param ip string - peer IPv4 address
	@param password string - vault password
	@returns ViolationError when not valid
*/
func CheckImportTarget(v *validator.Validate, ip string, password string) error {
	messages := []string{}
	if !localIPPattern.MatchString(ip) || v.Var(ip, "required,ipv4") != nil {
		messages = append(messages, MsgInvalidImportIP)
	}
	if len(password) < MinPasswordLength {
		messages = append(messages, MsgPasswordTooShort)
	}
	return violationsOrNil(messages)
}
