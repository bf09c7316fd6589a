// Package googleauth turns service account settings into Google API client
// options shared by the Sheets and Calendar adapters.
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
)

// Credentials names where the service account key comes from. The first
// non-empty source wins, in field order.
type Credentials struct {
	JSON            string
	File            string
	ApplicationFile string
}

// ClientOptions builds the options for a Google API service with the given
// scopes. Extra options are appended last so tests can override the endpoint.
func ClientOptions(ctx context.Context, creds Credentials, scopes []string, extra ...goption.ClientOption) ([]goption.ClientOption, error) {
	credentialsJSON, err := load(ctx, creds)
	if err != nil {
		return nil, err
	}
	opts := []goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(scopes...),
	}
	return append(opts, extra...), nil
}

func load(ctx context.Context, creds Credentials) ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(creds.JSON)
	serviceAccountFile := strings.TrimSpace(creds.File)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(creds.ApplicationFile)
	}

	switch {
	case serviceAccountJSON != "":
		slog.DebugContext(ctx, "Using inline service account credentials", "json_length", len(serviceAccountJSON))
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.DebugContext(ctx, "Read service account credentials file", "path", serviceAccountFile, "size", len(b))
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}
