package cliutil

import "testing"

func TestRedactSecrets(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "server listening on :8080", "server listening on :8080"},
		{"template", "using ${DB_URL}", "using ${[redacted]}"},
		{"env assignment", `POSTGRES_PASSWORD="hunter2" ready`, `POSTGRES_PASSWORD="[redacted]" ready`},
		{"flag equals", "mysql --password=hunter2 -h db", "mysql --password=[redacted] -h db"},
		{"flag space", "cli login --token abc123", "cli login --token [redacted]"},
		{"url credentials", "connecting to postgres://app:s3cret@db:5432/app", "connecting to postgres://app:[redacted]@db:5432/app"},
		{"bearer", "Authorization: Bearer eyJhbGciOi.abc", "Authorization: Bearer [redacted]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RedactSecrets(tc.in); got != tc.want {
				t.Fatalf("RedactSecrets(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
