package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewUnimplementedInterfaceError is used when there is a failed interface check.
func NewUnimplementedInterfaceError(expected string, actual interface{}) error {
	return errors.Errorf("expected implementation of %s but got %T", expected, actual)
}

// NewModelNotFoundError is used when a model name is not registered or configured.
func NewModelNotFoundError(name string) error {
	return errors.Errorf("model %q not found", name)
}

// NewMissingTensorError is used when an inference result lacks a named output.
func NewMissingTensorError(name string) error {
	return errors.Errorf("no tensor named %q in inference output", name)
}
