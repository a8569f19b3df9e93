// Package provider holds the remote targets a sync can be pushed to.
// Every target implements the same two-call contract: upload the config
// snapshot, and check reachability. Failures come back as plain errors;
// the coordinator decides what to do with them.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ObjectName is the fixed name of the uploaded snapshot on every remote
// provider.
const ObjectName = "daily-income-config.json"

const requestTimeout = 10 * time.Second

var (
	ErrUnknownProvider       = errors.New("unknown sync provider")
	ErrIncompleteCredentials = errors.New("incomplete sync credentials")
)

// Credentials carries everything an adapter needs to reach its target.
// Non-sensitive fields come from settings, sensitive ones from the
// secret store; the coordinator merges the two before calling New.
type Credentials struct {
	Provider  string
	Endpoint  string
	Username  string
	Password  string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Complete reports whether the credentials are sufficient for their
// provider kind.
func (c Credentials) Complete() bool {
	switch c.Provider {
	case "local":
		return true
	case "webdav":
		return c.Endpoint != "" && c.Username != "" && c.Password != ""
	case "s3", "aliyun-oss":
		return c.Endpoint != "" && c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
	default:
		return false
	}
}

// Adapter is one sync target.
type Adapter interface {
	// Name returns the provider tag ("local", "webdav", ...).
	Name() string
	// Send uploads the config snapshot.
	Send(ctx context.Context, payload []byte) error
	// Ping checks that the target is reachable with these credentials.
	Ping(ctx context.Context) error
}

// New builds the adapter for the credentials' provider tag.
func New(creds Credentials) (Adapter, error) {
	if !creds.Complete() {
		if creds.Provider != "local" && creds.Provider != "webdav" &&
			creds.Provider != "s3" && creds.Provider != "aliyun-oss" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, creds.Provider)
		}
		return nil, fmt.Errorf("%w for provider %q", ErrIncompleteCredentials, creds.Provider)
	}

	client := &http.Client{Timeout: requestTimeout}
	switch creds.Provider {
	case "local":
		return Local{}, nil
	case "webdav":
		return &WebDAV{creds: creds, client: client}, nil
	case "s3":
		return &ObjectStore{creds: creds, client: client, scheme: "AWS"}, nil
	case "aliyun-oss":
		return &ObjectStore{creds: creds, client: client, scheme: "OSS"}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, creds.Provider)
}

func joinURL(base string, parts ...string) string {
	u := strings.TrimRight(base, "/")
	for _, p := range parts {
		u += "/" + strings.Trim(p, "/")
	}
	return u
}
