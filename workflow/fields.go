package workflow

import (
	"strings"
	"time"

	"github.com/songzhibin97/clinic-intake/errs"
	"github.com/songzhibin97/clinic-intake/types"
)

// MaxAttachmentSize is the largest accepted attachment, 10 MiB.
const MaxAttachmentSize int64 = 10 << 20

// AllowedMediaTypes lists the document and image types an attachment may have.
var AllowedMediaTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// CheckAttachment rejects unsupported media types and oversized files.
func CheckAttachment(field string, file types.Attachment) error {
	if !contains(AllowedMediaTypes, strings.ToLower(file.MediaType)) {
		return errs.UnsupportedFileType("attach file", field, file.MediaType)
	}
	if file.Size > MaxAttachmentSize {
		return errs.FileTooLarge("attach file", field, file.Size, MaxAttachmentSize)
	}
	return nil
}

// NewStep builds a step from fields.
func NewStep(id, label string, fields ...types.Field) types.Step {
	return types.Step{ID: id, Label: label, Fields: fields}
}

// Choice is satisfied by exactly one value from options.
func Choice(key, label string, options ...string) types.Field {
	opts := append([]string(nil), options...)
	return types.Field{
		Key:     key,
		Label:   label,
		Kind:    types.FieldChoice,
		Options: opts,
		Check: func(value interface{}, present bool, _ types.Answers) bool {
			s, ok := value.(string)
			return present && ok && contains(opts, s)
		},
	}
}

// Text is a required free-text field; blank values fail.
func Text(key, label string) types.Field {
	return types.Field{
		Key:   key,
		Label: label,
		Kind:  types.FieldText,
		Check: func(value interface{}, present bool, _ types.Answers) bool {
			s, ok := value.(string)
			return present && ok && strings.TrimSpace(s) != ""
		},
	}
}

// Optional is a free-text field that never fails.
func Optional(key, label string) types.Field {
	return types.Field{Key: key, Label: label, Kind: types.FieldOptional}
}

// Date is a calendar date accepted by valid. Changing it clears the keys in clears.
func Date(key, label string, valid func(date string) bool, clears ...string) types.Field {
	return types.Field{
		Key:    key,
		Label:  label,
		Kind:   types.FieldDate,
		Clears: clears,
		Check: func(value interface{}, present bool, _ types.Answers) bool {
			s, ok := value.(string)
			if !present || !ok {
				return false
			}
			if _, err := time.Parse(types.DateLayout, s); err != nil {
				return false
			}
			return valid == nil || valid(s)
		},
	}
}

// Time is a time label drawn from offered. dependsOn names the other fields
// offered reads.
func Time(key, label string, offered func(answers types.Answers) []string, dependsOn ...string) types.Field {
	return types.Field{
		Key:       key,
		Label:     label,
		Kind:      types.FieldTime,
		DependsOn: dependsOn,
		Check: func(value interface{}, present bool, answers types.Answers) bool {
			s, ok := value.(string)
			return present && ok && contains(offered(answers), s)
		},
	}
}

// File is satisfied by an acceptable attachment.
func File(key, label string) types.Field {
	return types.Field{
		Key:   key,
		Label: label,
		Kind:  types.FieldFile,
		Check: func(value interface{}, present bool, _ types.Answers) bool {
			f, ok := value.(types.Attachment)
			return present && ok && f.Name != "" && CheckAttachment(key, f) == nil
		},
	}
}
