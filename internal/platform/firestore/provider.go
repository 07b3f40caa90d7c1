// Package firestore opens Firestore clients and maps their errors onto
// repository semantics.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rise-n-smoke/ordering/internal/platform/config"
)

const (
	dialTimeout     = 10 * time.Second
	envEmulatorHost = "FIRESTORE_EMULATOR_HOST"
)

// ErrNotConfigured is returned when no project id is set.
var ErrNotConfigured = errors.New("firestore: project id not configured")

// NewClient dials Firestore. When an emulator host is configured the client
// connects without credentials over plaintext gRPC.
func NewClient(ctx context.Context, cfg config.FirestoreConfig, opts ...option.ClientOption) (*firestore.Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	host := strings.TrimSpace(cfg.EmulatorHost)
	if host == "" {
		host = strings.TrimSpace(os.Getenv(envEmulatorHost))
	}
	if host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}
