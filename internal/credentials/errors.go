package credentials

import "fmt"

// StoreError reports a secret-store backend failure. Missing credentials
// are not errors; they are reported as a nil AuthInfo.
type StoreError struct {
	Operation    string
	CredentialID string
	Cause        error
}

func (e *StoreError) Error() string {
	if e.CredentialID == "" {
		return fmt.Sprintf("credential store %s failed: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("credential store %s failed for %s: %v", e.Operation, e.CredentialID, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}
