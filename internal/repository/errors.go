package repository

import (
	"errors"
	"net/http"

	"github.com/go-kivik/kivik/v4"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionMismatch = errors.New("document version mismatch")
	ErrAlreadyExists   = errors.New("document already exists")
)

// translate maps CouchDB status codes onto the package sentinels and leaves
// every other error untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch kivik.HTTPStatus(err) {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrVersionMismatch
	}
	return err
}
