package storage

import (
	"path/filepath"
	"testing"
)

func TestObjectKey(t *testing.T) {
	root := filepath.Join("out", "data")
	tests := []struct {
		file    string
		want    string
		wantErr bool
	}{
		{filepath.Join(root, "deal=sale", "property=apartment", "month=2025-04", "part-00000.parquet"),
			"deal=sale/property=apartment/month=2025-04/part-00000.parquet", false},
		{filepath.Join("elsewhere", "part-00000.parquet"), "", true},
	}
	for _, tt := range tests {
		got, err := objectKey(root, tt.file)
		if (err != nil) != tt.wantErr {
			t.Errorf("objectKey(%q) error = %v, wantErr %v", tt.file, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("objectKey(%q) = %q, want %q", tt.file, got, tt.want)
		}
	}
}
