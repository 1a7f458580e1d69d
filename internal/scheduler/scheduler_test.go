package scheduler

import (
	"testing"
	"time"

	"github.com/dhawalhost/dirsync/internal/connection"
)

func TestDue(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	hourAgo := now.Add(-time.Hour)
	justNow := now.Add(-time.Minute)

	tests := []struct {
		name     string
		interval int
		lastSync *time.Time
		want     bool
	}{
		{"zero interval never due", 0, &hourAgo, false},
		{"never synced is due", 30, nil, true},
		{"interval elapsed", 30, &hourAgo, true},
		{"interval not elapsed", 30, &justNow, false},
		{"interval exactly elapsed", 60, &hourAgo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := connection.Connection{
				Config:     connection.Config{SyncInterval: tt.interval},
				LastSyncAt: tt.lastSync,
			}
			if got := due(conn, now); got != tt.want {
				t.Errorf("due() = %v, want %v", got, tt.want)
			}
		})
	}
}
