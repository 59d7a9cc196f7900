package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := NewCatalogError(CodeDuplicateBoundary, "boundary already exists")
	msg := err.Error()
	if !strings.Contains(msg, "CATALOG") || !strings.Contains(msg, "DUPLICATE_BOUNDARY") {
		t.Errorf("error string missing category/code: %s", msg)
	}

	cause := errors.New("disk full")
	wrapped := NewManifestError(CodeWriteConflict, "failed to commit", cause)
	if !strings.Contains(wrapped.Error(), "disk full") {
		t.Errorf("wrapped error string missing cause: %s", wrapped.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewManifestError(CodeWriteConflict, "commit failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}

	// A further fmt.Errorf wrap keeps the chain intact.
	outer := fmt.Errorf("applying change: %w", err)
	var re *RangeError
	if !errors.As(outer, &re) {
		t.Fatal("errors.As failed through fmt.Errorf wrap")
	}
	if re.Code != CodeWriteConflict {
		t.Errorf("code = %s", re.Code)
	}
}

func TestIsMatchesCategoryAndCode(t *testing.T) {
	a := NewCatalogError(CodePartitionNotFound, "p_x not found")
	b := NewCatalogError(CodePartitionNotFound, "different message")
	c := NewCatalogError(CodeDuplicateName, "name in use")

	if !errors.Is(a, b) {
		t.Error("same category/code should match regardless of message")
	}
	if errors.Is(a, c) {
		t.Error("different codes should not match")
	}
}

func TestCodeAndCategoryExtraction(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewValidationError(CodeInvalidPredicate, "bad range"))

	if GetCategory(err) != ErrCategoryValidation {
		t.Errorf("GetCategory = %s", GetCategory(err))
	}
	if GetCode(err) != CodeInvalidPredicate {
		t.Errorf("GetCode = %s", GetCode(err))
	}
	if !HasCode(err, CodeInvalidPredicate) {
		t.Error("HasCode should match through the chain")
	}
	if HasCode(err, CodeInvalidKey) {
		t.Error("HasCode matched the wrong code")
	}

	plain := errors.New("plain")
	if GetCategory(plain) != "" || GetCode(plain) != "" {
		t.Error("plain errors have no category or code")
	}
}

func TestRetryability(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{NewStorageError(CodeUploadFailed, "s3 put failed", nil), true},
		{NewStorageError(CodeDownloadFailed, "s3 get failed", nil), true},
		{NewManifestError(CodeWriteConflict, "busy", nil), true},
		{NewCatalogError(CodeDuplicateBoundary, "exists"), false},
		{NewCatalogError(CodeNonMonotonicBoundary, "out of order"), false},
		{NewValidationError(CodeInvalidKey, "bad key"), false},
		{NewInternalError("panic", nil), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestWithDetails(t *testing.T) {
	base := NewCatalogError(CodePartitionNotFound, "missing")
	detailed := base.WithDetails(map[string]interface{}{"partition": "p_2023_01"})

	if base.Details != nil {
		t.Error("WithDetails mutated the original error")
	}
	if detailed.Details["partition"] != "p_2023_01" {
		t.Errorf("details = %v", detailed.Details)
	}
	if detailed.Code != base.Code {
		t.Error("WithDetails changed the code")
	}
}
