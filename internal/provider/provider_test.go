package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCredentialsComplete(t *testing.T) {
	cases := []struct {
		name  string
		creds Credentials
		want  bool
	}{
		{"local needs nothing", Credentials{Provider: "local"}, true},
		{"webdav complete", Credentials{Provider: "webdav", Endpoint: "https://dav.example.com", Username: "u", Password: "p"}, true},
		{"webdav missing password", Credentials{Provider: "webdav", Endpoint: "https://dav.example.com", Username: "u"}, false},
		{"s3 complete", Credentials{Provider: "s3", Endpoint: "https://s3.example.com", Bucket: "b", AccessKey: "ak", SecretKey: "sk"}, true},
		{"oss missing bucket", Credentials{Provider: "aliyun-oss", Endpoint: "https://oss.example.com", AccessKey: "ak", SecretKey: "sk"}, false},
		{"unknown provider", Credentials{Provider: "ftp"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.creds.Complete(); got != tc.want {
				t.Fatalf("Complete() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewDispatch(t *testing.T) {
	a, err := New(Credentials{Provider: "local"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Name() != "local" {
		t.Fatalf("Name() = %q", a.Name())
	}

	if _, err := New(Credentials{Provider: "ftp"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if _, err := New(Credentials{Provider: "webdav"}); !errors.Is(err, ErrIncompleteCredentials) {
		t.Fatalf("expected ErrIncompleteCredentials, got %v", err)
	}
}

func TestWebDAVSend(t *testing.T) {
	var gotMethod, gotPath, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a, err := New(Credentials{Provider: "webdav", Endpoint: srv.URL, Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Send(context.Background(), []byte(`{"monthlyIncome":10000}`)); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("method = %q", gotMethod)
	}
	if gotPath != "/"+ObjectName {
		t.Fatalf("path = %q", gotPath)
	}
	if gotUser != "alice" || gotPass != "secret" {
		t.Fatalf("basic auth = %q/%q", gotUser, gotPass)
	}
}

func TestWebDAVSendRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a, _ := New(Credentials{Provider: "webdav", Endpoint: srv.URL, Username: "u", Password: "bad"})
	if err := a.Send(context.Background(), []byte("{}")); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestWebDAVPing(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.Header().Set("DAV", "1,2")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, _ := New(Credentials{Provider: "webdav", Endpoint: srv.URL, Username: "u", Password: "p"})
	if err := a.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodOptions {
		t.Fatalf("method = %q", gotMethod)
	}
}

func TestObjectStoreSendSigns(t *testing.T) {
	var gotPath, gotAuth, gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotDate = r.Header.Get("Date")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := New(Credentials{
		Provider: "s3", Endpoint: srv.URL,
		Bucket: "income", AccessKey: "AKID", SecretKey: "shh",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Send(context.Background(), []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/income/"+ObjectName {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "AWS AKID:") {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotDate == "" {
		t.Fatal("missing Date header")
	}
}

func TestObjectStorePingTreats404AsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a, _ := New(Credentials{
		Provider: "aliyun-oss", Endpoint: srv.URL,
		Bucket: "income", AccessKey: "ak", SecretKey: "sk",
	})
	if a.Name() != "aliyun-oss" {
		t.Fatalf("Name() = %q", a.Name())
	}
	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("404 should count as reachable, got %v", err)
	}
}
