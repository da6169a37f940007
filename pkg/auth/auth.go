// Package auth decides which callers may administer the ledger.
package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a caller lacks the required role.
var ErrUnauthorized = errors.New("unauthorized")

// Controller grants administrative rights to a single identity.
type Controller struct {
	identity string
}

// NewController returns a guard for the given controlling identity.
func NewController(identity string) *Controller {
	return &Controller{identity: identity}
}

// Identity returns the controlling identity.
func (c *Controller) Identity() string { return c.identity }

// IsController reports whether caller is the controlling identity.
func (c *Controller) IsController(caller string) bool {
	return c.identity != "" && caller == c.identity
}

// RequireController returns ErrUnauthorized unless caller is the controller.
func (c *Controller) RequireController(caller string) error {
	if !c.IsController(caller) {
		return fmt.Errorf("caller %q is not the controller: %w", caller, ErrUnauthorized)
	}
	return nil
}

// RequireOwner permits the owner of a resource or the controller.
func (c *Controller) RequireOwner(caller, owner string) error {
	if caller != "" && caller == owner {
		return nil
	}
	if c.IsController(caller) {
		return nil
	}
	return fmt.Errorf("caller %q does not own this budget: %w", caller, ErrUnauthorized)
}
