package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	diskErr := errors.New("mmap: bad address")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid sort", InvalidSort("field %q is not sortable", "price"), http.StatusBadRequest},
		{"wrapped invalid sort", fmt.Errorf("building rules: %w", ErrInvalidSortUsage), http.StatusBadRequest},
		{"storage", Storage("reading word-docids", diskErr), http.StatusInternalServerError},
		{"inconsistent", Inconsistent("unknown word handle %d", 3), http.StatusInternalServerError},
		{"cancelled", fmt.Errorf("bucket sort: %w", ErrCancelled), http.StatusServiceUnavailable},
		{"index missing", ErrIndexNotFound, http.StatusNotFound},
		{"not found", NotFound("no index at %s", "/data/index.db"), http.StatusNotFound},
		{"internal", Internal("search panicked: %v", "boom"), http.StatusInternalServerError},
		{"unknown", diskErr, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStorageKeepsCause(t *testing.T) {
	cause := errors.New("page fault")
	err := Storage("reading exact-word-docids", cause)

	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage in chain: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected the original cause in chain: %v", err)
	}
}
