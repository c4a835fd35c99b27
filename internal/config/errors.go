package config

import "fmt"

// ConfigurationError is a failure to load the configuration file.
type ConfigurationError struct {
	FilePath  string `json:"filePath"`
	ErrorType string `json:"errorType"` // io, parse or validation
	Message   string `json:"message"`
}

// Error implements the error interface
func (ce ConfigurationError) Error() string {
	return fmt.Sprintf("%s error in %s: %s", ce.ErrorType, ce.FilePath, ce.Message)
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(filePath, errorType, message string) ConfigurationError {
	return ConfigurationError{
		FilePath:  filePath,
		ErrorType: errorType,
		Message:   message,
	}
}
