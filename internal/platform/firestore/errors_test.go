package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesCodes(t *testing.T) {
	cases := []struct {
		code                            codes.Code
		notFound, conflict, unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.AlreadyExists, false, true, false},
		{codes.Aborted, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.InvalidArgument, false, false, false},
	}
	for _, tc := range cases {
		err := WrapError("carts.get", status.Error(tc.code, "boom"))
		var fsErr *Error
		if !errors.As(err, &fsErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if fsErr.IsNotFound() != tc.notFound || fsErr.IsConflict() != tc.conflict || fsErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification", tc.code)
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "x")); err != context.Canceled {
		t.Fatalf("expected canceled code mapped, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}
