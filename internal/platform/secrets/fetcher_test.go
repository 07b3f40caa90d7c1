package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeClient struct {
	values map[string]string
	err    error
	calls  []string
}

func (c *fakeClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.calls = append(c.calls, req.GetName())
	if c.err != nil {
		return nil, c.err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (c *fakeClient) Close() error { return nil }

func TestResolveRemoteAndCache(t *testing.T) {
	client := &fakeClient{values: map[string]string{
		"projects/rns/secrets/clover-token/versions/latest": "tok",
		"projects/other/secrets/clover-token/versions/3":    "tok-v3",
	}}
	f := NewFetcher(context.Background(), "rns", nil, WithClient(client))

	for i := 0; i < 2; i++ {
		value, err := f.Resolve(context.Background(), "secret://clover-token")
		if err != nil || value != "tok" {
			t.Fatalf("expected tok, got %q %v", value, err)
		}
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected cached second lookup, got %v", client.calls)
	}
	value, err := f.ResolveSecret(context.Background(), "secret://clover-token?version=3&project=other")
	if err != nil || value != "tok-v3" {
		t.Fatalf("expected pinned version, got %q %v", value, err)
	}
}

func TestResolveFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("clover-webhook=local-secret\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	client := &fakeClient{err: status.Error(codes.PermissionDenied, "denied")}
	f := NewFetcher(context.Background(), "rns", nil, WithClient(client), WithFallbackFile(path))

	value, err := f.Resolve(context.Background(), "secret://clover-webhook")
	if err != nil || value != "local-secret" {
		t.Fatalf("expected fallback value, got %q %v", value, err)
	}
}

func TestResolveErrors(t *testing.T) {
	f := NewFetcher(context.Background(), "rns", nil, WithClient(&fakeClient{err: status.Error(codes.InvalidArgument, "bad")}))
	if _, err := f.Resolve(context.Background(), "secret://x"); err == nil {
		t.Fatalf("expected non-fallback error to surface")
	}
	if _, err := f.Resolve(context.Background(), "https://x"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, err := f.Resolve(context.Background(), "secret://"); err == nil {
		t.Fatalf("expected missing name error")
	}
}
