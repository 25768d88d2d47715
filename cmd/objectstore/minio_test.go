package objectstore

import (
	"testing"
)

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		endpoint   string
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{name: "empty targets AWS", endpoint: "", wantHost: "s3.amazonaws.com", wantSecure: true},
		{name: "http URL", endpoint: "http://localhost:9000", wantHost: "localhost:9000", wantSecure: false},
		{name: "https URL", endpoint: "https://minio.internal", wantHost: "minio.internal", wantSecure: true},
		{name: "bare host", endpoint: "minio.internal:9000", wantHost: "minio.internal:9000", wantSecure: true},
		{name: "missing host", endpoint: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, secure, err := splitEndpoint(tt.endpoint)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected an error for %q", tt.endpoint)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if host != tt.wantHost || secure != tt.wantSecure {
				t.Errorf("splitEndpoint(%q) = %q, %t; want %q, %t", tt.endpoint, host, secure, tt.wantHost, tt.wantSecure)
			}
		})
	}
}

func TestProgressSink(t *testing.T) {
	var total int64
	sink := progressSink{progress: func(n int64) { total += n }}

	n, err := sink.Read(make([]byte, 10))
	if err != nil || n != 10 {
		t.Fatalf("Read returned %d, %v", n, err)
	}
	if _, err := sink.Read(nil); err != nil {
		t.Fatal(err)
	}
	if total != 10 {
		t.Errorf("expected 10 bytes reported, got %d", total)
	}

	// a nil callback is a no-op
	if n, err := (progressSink{}).Read(make([]byte, 3)); n != 3 || err != nil {
		t.Errorf("nil progress: got %d, %v", n, err)
	}
}

func TestNewMinioStore(t *testing.T) {
	store, err := NewMinioStore(S3Config{Endpoint: "http://localhost:9000", Bucket: "lake", AccessKey: "a", SecretKey: "b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if store.Bucket() != "lake" {
		t.Errorf("unexpected bucket %s", store.Bucket())
	}

	other := store.ForBucket("landing")
	if other.Bucket() != "landing" {
		t.Errorf("unexpected routed bucket %s", other.Bucket())
	}
	if store.ForBucket("") != Store(store) {
		t.Error("empty bucket should route to the same store")
	}
}
