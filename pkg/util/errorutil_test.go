package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestToDomainErrorKeepsWrappedDomainError(t *testing.T) {
	base := NewNotFound("ticket", map[string]any{"id": "t1"})
	wrapped := fmt.Errorf("load: %w", base)

	de := ToDomainError(wrapped)
	if de.Code != "NOT_FOUND" || de.HTTPStatus != http.StatusNotFound {
		t.Fatalf("got %s/%d", de.Code, de.HTTPStatus)
	}
	if !IsCode(wrapped, "NOT_FOUND") {
		t.Fatal("IsCode should see through wrapping")
	}
}

func TestToDomainErrorDefaultsToInternal(t *testing.T) {
	cause := errors.New("boom")
	de := ToDomainError(cause)
	if de.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("status = %d", de.HTTPStatus)
	}
	if !errors.Is(de, cause) {
		t.Fatal("internal error should unwrap to cause")
	}
	if ToDomainError(nil) != nil {
		t.Fatal("nil error should map to nil")
	}
}

func TestRejectedAndUnavailableStatuses(t *testing.T) {
	if de := ToDomainError(NewRejected("bad", nil)); de.HTTPStatus != http.StatusUnprocessableEntity {
		t.Errorf("rejected status = %d", de.HTTPStatus)
	}
	if de := ToDomainError(NewUnavailable("down", errors.New("dial"))); de.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("unavailable status = %d", de.HTTPStatus)
	}
}
