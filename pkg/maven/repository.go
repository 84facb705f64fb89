package maven

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrMissingCredentials is returned when a remote repository is configured without a complete username/password pair
	ErrMissingCredentials = eris.New("missing repository credentials")
	// ErrUnauthorized is returned when a repository rejects the supplied credentials
	ErrUnauthorized = eris.New("repository rejected the credentials")
)

// Deployment bundles everything a repository needs to store a publication
type Deployment struct {
	Publication *Publication
	POM         []byte
	Checksums   Checksums
	Size        int64
	Time        time.Time
}

// Repository is a publication target
type Repository interface {
	Name() string
	Location() string
	Deploy(ctx context.Context, d *Deployment) error
}

// Credentials holds the username/password pair for a remote repository
type Credentials struct {
	Username string
	Password string
}

// Validate makes sure that both halves of the pair are present
func (c Credentials) Validate() error {
	switch {
	case c.Username == "" && c.Password == "":
		return eris.Wrap(ErrMissingCredentials, "username and password are empty")
	case c.Username == "":
		return eris.Wrap(ErrMissingCredentials, "username is empty")
	case c.Password == "":
		return eris.Wrap(ErrMissingCredentials, "password is empty")
	}

	return nil
}
