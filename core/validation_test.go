package core

import (
	"errors"
	"testing"
	"time"
)

func TestValidateAssetRecord(t *testing.T) {
	validTime := time.Now().Add(-1 * time.Hour)
	futureTime := time.Now().Add(1 * time.Hour)

	valid := func() *AssetRecord {
		return &AssetRecord{
			ID:          1,
			ContentHash: "abc123",
			Path:        "/assets/car.png",
			Kind:        KindImage,
			SizeBytes:   42,
			CreatedAt:   validTime,
			State:       StateFingerprinted,
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *AssetRecord) *AssetRecord
		wantErr error
	}{
		{
			name:    "valid record",
			mutate:  func(r *AssetRecord) *AssetRecord { return r },
			wantErr: nil,
		},
		{
			name: "valid record with ID 0",
			mutate: func(r *AssetRecord) *AssetRecord {
				r.ID = 0
				return r
			},
			wantErr: nil,
		},
		{
			name: "valid record without embedding",
			mutate: func(r *AssetRecord) *AssetRecord {
				r.Embedding = nil
				r.LexicalFields = nil
				return r
			},
			wantErr: nil,
		},
		{
			name:    "nil record",
			mutate:  func(r *AssetRecord) *AssetRecord { return nil },
			wantErr: ErrInvalidAssetRecord,
		},
		{
			name: "empty content hash",
			mutate: func(r *AssetRecord) *AssetRecord {
				r.ContentHash = ""
				return r
			},
			wantErr: ErrEmptyContentHash,
		},
		{
			name: "empty path",
			mutate: func(r *AssetRecord) *AssetRecord {
				r.Path = ""
				return r
			},
			wantErr: ErrEmptyPath,
		},
		{
			name: "invalid state",
			mutate: func(r *AssetRecord) *AssetRecord {
				r.State = PipelineState(99)
				return r
			},
			wantErr: ErrInvalidState,
		},
		{
			name: "invalid kind",
			mutate: func(r *AssetRecord) *AssetRecord {
				r.Kind = Kind("hologram")
				return r
			},
			wantErr: ErrInvalidKind,
		},
		{
			name: "negative size",
			mutate: func(r *AssetRecord) *AssetRecord {
				r.SizeBytes = -1
				return r
			},
			wantErr: ErrNegativeSize,
		},
		{
			name: "future creation time",
			mutate: func(r *AssetRecord) *AssetRecord {
				r.CreatedAt = futureTime
				return r
			},
			wantErr: ErrInvalidTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAssetRecord(tt.mutate(valid()))

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateAssetRecord() error = %v, want nil", err)
				}
				return
			}

			if err == nil {
				t.Errorf("ValidateAssetRecord() error = nil, want %v", tt.wantErr)
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAssetRecord() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsValidTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"past", time.Now().Add(-time.Minute), true},
		{"now", time.Now(), true},
		{"future", time.Now().Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidTimestamp(tt.ts); got != tt.want {
				t.Errorf("IsValidTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}
