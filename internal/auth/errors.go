package auth

import "fmt"

// LoginError is returned by server logins. Its message is exactly
// "Error authenticating with <product>: <cause>", which callers compare
// against verbatim.
type LoginError struct {
	Product Product
	Cause   error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("Error authenticating with %s: %v", e.Product.Name, e.Cause)
}

func (e *LoginError) Unwrap() error {
	return e.Cause
}

// NewLoginError wraps cause for product.
func NewLoginError(product Product, cause error) *LoginError {
	return &LoginError{Product: product, Cause: cause}
}
