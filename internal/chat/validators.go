package chat

import (
	"crypto/sha256"
	"strings"
	"unicode/utf8"
)

// Limits bound what a request may contain
type Limits struct {
	MinPromptLength   int      `yaml:"min_prompt_length" mapstructure:"min_prompt_length"`
	MaxPromptLength   int      `yaml:"max_prompt_length" mapstructure:"max_prompt_length"`
	MaxFiles          int      `yaml:"max_files" mapstructure:"max_files"`
	MaxFileSize       int64    `yaml:"max_file_size" mapstructure:"max_file_size"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	AllowedTypes      []string `yaml:"allowed_types" mapstructure:"allowed_types"`
}

// DefaultLimits returns the stock request limits
func DefaultLimits() Limits {
	return Limits{
		MinPromptLength:   3,
		MaxPromptLength:   10000,
		MaxFiles:          5,
		MaxFileSize:       10 * 1024 * 1024,
		AllowedExtensions: []string{".txt", ".md", ".csv", ".json", ".pdf", ".doc", ".docx"},
		AllowedTypes: []string{
			"text/plain",
			"text/csv",
			"text/markdown",
			"application/json",
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
	}
}

// Validator checks one aspect of a request
type Validator interface {
	Validate(req *Request) error
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(req *Request) error

func (f ValidatorFunc) Validate(req *Request) error {
	return f(req)
}

// ValidatorChain runs validators in order and stops at the first failure
type ValidatorChain struct {
	validators []Validator
}

// NewValidatorChain creates a chain from validators
func NewValidatorChain(validators ...Validator) *ValidatorChain {
	return &ValidatorChain{validators: validators}
}

// Add appends a validator
func (c *ValidatorChain) Add(v Validator) *ValidatorChain {
	c.validators = append(c.validators, v)
	return c
}

// Validate runs the chain
func (c *ValidatorChain) Validate(req *Request) error {
	for _, v := range c.validators {
		if err := v.Validate(req); err != nil {
			return err
		}
	}
	return nil
}

// DefaultValidatorChain builds the request, prompt and file validators for limits
func DefaultValidatorChain(limits Limits) *ValidatorChain {
	return NewValidatorChain(
		ValidatorFunc(requireInput),
		PromptValidator{Limits: limits},
		FilesValidator{Limits: limits},
	)
}

func requireInput(req *Request) error {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Files) == 0 {
		return invalid("prompt", "Prompt or at least one file is required")
	}
	return nil
}

// PromptValidator enforces prompt length. An empty prompt is left to the
// request-level check.
type PromptValidator struct {
	Limits Limits
}

func (v PromptValidator) Validate(req *Request) error {
	if req.Prompt == "" {
		return nil
	}
	trimmed := strings.TrimSpace(req.Prompt)
	if trimmed == "" {
		return invalid("prompt", "Prompt cannot be empty")
	}
	if v.Limits.MinPromptLength > 0 && utf8.RuneCountInString(trimmed) < v.Limits.MinPromptLength {
		return invalid("prompt", "Prompt must be at least %d characters", v.Limits.MinPromptLength)
	}
	if v.Limits.MaxPromptLength > 0 && utf8.RuneCountInString(req.Prompt) > v.Limits.MaxPromptLength {
		return invalid("prompt", "Prompt cannot exceed %d characters", v.Limits.MaxPromptLength)
	}
	return nil
}

// FilesValidator enforces file count, size, type and uniqueness
type FilesValidator struct {
	Limits Limits
}

func (v FilesValidator) Validate(req *Request) error {
	if len(req.Files) == 0 {
		return nil
	}
	if v.Limits.MaxFiles > 0 && len(req.Files) > v.Limits.MaxFiles {
		return invalid("files", "Cannot upload more than %d files at once", v.Limits.MaxFiles)
	}

	seen := make(map[[sha256.Size]byte]bool, len(req.Files))
	for i, f := range req.Files {
		if err := v.validateFile(f); err != nil {
			name := f.Name
			if name == "" {
				name = "unknown"
			}
			return invalid("files", "File %d (%s): %s", i+1, name, err.Message)
		}

		sum := sha256.Sum256(f.Data)
		if seen[sum] {
			return invalid("files", "Duplicate file detected: %s", f.Name)
		}
		seen[sum] = true
	}
	return nil
}

func (v FilesValidator) validateFile(f File) *ValidationError {
	if f.Name == "" {
		return invalid("files", "File must have a filename")
	}
	if len(f.Data) == 0 {
		return invalid("files", "File is empty")
	}
	if v.Limits.MaxFileSize > 0 && int64(len(f.Data)) > v.Limits.MaxFileSize {
		return invalid("files", "File exceeds the maximum size of %d bytes", v.Limits.MaxFileSize)
	}
	if !v.allowed(f) {
		return invalid("files", "File type '%s' is not supported", describeType(f))
	}
	return nil
}

func (v FilesValidator) allowed(f File) bool {
	if len(v.Limits.AllowedExtensions) == 0 && len(v.Limits.AllowedTypes) == 0 {
		return true
	}
	ext := f.Ext()
	for _, e := range v.Limits.AllowedExtensions {
		if ext != "" && strings.EqualFold(e, ext) {
			return true
		}
	}
	ct := strings.TrimSpace(strings.Split(f.ContentType, ";")[0])
	for _, t := range v.Limits.AllowedTypes {
		if ct != "" && strings.EqualFold(t, ct) {
			return true
		}
	}
	return false
}

func describeType(f File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	if ext := f.Ext(); ext != "" {
		return ext
	}
	return "unknown"
}
