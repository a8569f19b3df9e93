package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

// WebDAV uploads the snapshot with a plain authenticated PUT. Any WebDAV
// server (Nextcloud, Apache mod_dav) accepts this without protocol
// extensions.
type WebDAV struct {
	creds  Credentials
	client *http.Client
}

func (w *WebDAV) Name() string { return "webdav" }

func (w *WebDAV) Send(ctx context.Context, payload []byte) error {
	url := joinURL(w.creds.Endpoint, ObjectName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webdav request: %w", err)
	}
	req.SetBasicAuth(w.creds.Username, w.creds.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webdav upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webdav upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Ping issues an authenticated OPTIONS against the endpoint root; a 2xx
// or 3xx answer means the server is there and the credentials work.
func (w *WebDAV) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, w.creds.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("build webdav request: %w", err)
	}
	req.SetBasicAuth(w.creds.Username, w.creds.Password)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webdav ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webdav ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}
