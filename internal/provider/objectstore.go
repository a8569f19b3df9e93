package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// ObjectStore covers the two bucket-style providers. S3 and Aliyun OSS
// share the same legacy header-signing scheme (HMAC-SHA1 over the
// canonical request); only the Authorization prefix differs, so one
// adapter serves both tags.
type ObjectStore struct {
	creds  Credentials
	client *http.Client
	scheme string // "AWS" or "OSS"
}

func (o *ObjectStore) Name() string {
	if o.scheme == "OSS" {
		return "aliyun-oss"
	}
	return "s3"
}

func (o *ObjectStore) Send(ctx context.Context, payload []byte) error {
	url := joinURL(o.creds.Endpoint, o.creds.Bucket, ObjectName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", o.Name(), err)
	}
	o.sign(req, "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s upload: %w", o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s upload: unexpected status %d", o.Name(), resp.StatusCode)
	}
	return nil
}

// Ping issues a signed HEAD on the snapshot object. 404 still counts as
// reachable: the bucket answered and the signature was accepted, the
// object simply has not been uploaded yet.
func (o *ObjectStore) Ping(ctx context.Context) error {
	url := joinURL(o.creds.Endpoint, o.creds.Bucket, ObjectName)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", o.Name(), err)
	}
	o.sign(req, "")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s ping: %w", o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%s ping: unexpected status %d", o.Name(), resp.StatusCode)
	}
	return nil
}

// sign applies the legacy signature:
//
//	StringToSign = VERB \n Content-MD5 \n Content-Type \n Date \n /bucket/object
//	Authorization = <scheme> <accessKey>:base64(HMAC-SHA1(secretKey, StringToSign))
func (o *ObjectStore) sign(req *http.Request, contentType string) {
	date := time.Now().UTC().Format(http.TimeFormat)
	resource := "/" + o.creds.Bucket + "/" + ObjectName
	stringToSign := req.Method + "\n\n" + contentType + "\n" + date + "\n" + resource

	mac := hmac.New(sha1.New, []byte(o.creds.SecretKey))
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Date", date)
	req.Header.Set("Authorization", fmt.Sprintf("%s %s:%s", o.scheme, o.creds.AccessKey, signature))
}
