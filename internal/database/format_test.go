package database

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30 с"},
		{time.Minute, "1 хв"},
		{12 * time.Minute, "12 хв"},
		{time.Hour, "1 год 0 хв"},
		{2*time.Hour + 35*time.Minute, "2 год 35 хв"},
		{26*time.Hour + 5*time.Minute, "1 д 2 год 5 хв"},
		{73 * time.Hour, "3 д 1 год 0 хв"},
		{-10 * time.Minute, "10 хв"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.d); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
