package storage

import "fmt"

// ConfigError reports an archive backend that cannot be built from its
// configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "archive config: " + e.Message }

var (
	ErrR2AccountIDRequired   = &ConfigError{Message: "R2 account ID is required"}
	ErrR2CredentialsRequired = &ConfigError{Message: "R2 credentials are required"}
	ErrR2BucketRequired      = &ConfigError{Message: "R2 bucket name is required"}
)

// ErrUnknownProvider is returned for an ARCHIVE_PROVIDER other than local or r2.
func ErrUnknownProvider(provider string) error {
	return &ConfigError{Message: fmt.Sprintf("unknown storage provider %q", provider)}
}
