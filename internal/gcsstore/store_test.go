package gcsstore

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{
			name:       "simple object",
			uri:        "gs://my-bucket/receipt.pdf",
			wantBucket: "my-bucket",
			wantObject: "receipt.pdf",
		},
		{
			name:       "nested object",
			uri:        "gs://my-bucket/receipts/2026/08/abc-receipt.jpg",
			wantBucket: "my-bucket",
			wantObject: "receipts/2026/08/abc-receipt.jpg",
		},
		{
			name:    "missing scheme",
			uri:     "my-bucket/receipt.pdf",
			wantErr: true,
		},
		{
			name:    "no object path",
			uri:     "gs://my-bucket",
			wantErr: true,
		},
		{
			name:    "empty object path",
			uri:     "gs://my-bucket/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI(%q) = (%q, %q), want (%q, %q)", tt.uri, bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestFilenameFromURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"gs://bucket/folder/file.pdf", "file.pdf"},
		{"gs://bucket/receipts/2026/08/30/uuid-scan.jpg", "uuid-scan.jpg"},
		{"gs://bucket", "bucket"},
		{"plain-string", "plain-string"},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			if got := FilenameFromURI(tt.uri); got != tt.want {
				t.Errorf("FilenameFromURI(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}
