package errors

import (
	"testing"
)

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		expected ErrorType
	}{
		{0, ErrorTypeNetwork},
		{200, ErrorTypeUnknown},
		{404, ErrorTypeNotFound},
		{429, ErrorTypeBusy},
		{500, ErrorTypeServerError},
		{503, ErrorTypeBusy},
		{502, ErrorTypeServerError},
	}

	for _, test := range tests {
		if got := ClassifyStatusCode(test.code); got != test.expected {
			t.Errorf("ClassifyStatusCode(%d) = %v, want %v", test.code, got, test.expected)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServerError, ErrorTypeBusy}
	for _, errType := range retryable {
		if !IsRetryable(errType) {
			t.Errorf("Expected %v to be retryable", errType)
		}
	}

	permanent := []ErrorType{ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeFatal}
	for _, errType := range permanent {
		if IsRetryable(errType) {
			t.Errorf("Expected %v to be permanent", errType)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewWithCode(ErrorTypeNotFound, "resource gone", 404)
	if err.Error() == "" {
		t.Error("Expected non-empty error message")
	}
	if err.Type != ErrorTypeNotFound {
		t.Errorf("Expected type not_found, got %v", err.Type)
	}
	if err.Code != 404 {
		t.Errorf("Expected code 404, got %d", err.Code)
	}
}
