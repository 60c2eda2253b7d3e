package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "plain values",
			config: Config{Host: "localhost", Port: 5432, User: "app", Password: "secret", Database: "provision", SSLMode: "require"},
			want:   "host=localhost port=5432 user=app password=secret dbname=provision sslmode=require",
		},
		{
			name:   "default sslmode",
			config: Config{Host: "db", Port: 5433, User: "app", Password: "pw", Database: "x"},
			want:   "host=db port=5433 user=app password=pw dbname=x sslmode=disable",
		},
		{
			name:   "password needs quoting",
			config: Config{Host: "db", Port: 5432, User: "app", Password: `it's a\pw`, Database: "x"},
			want:   `host=db port=5432 user=app password='it\'s a\\pw' dbname=x sslmode=disable`,
		},
		{
			name:   "empty password",
			config: Config{Host: "db", Port: 5432, User: "app", Database: "x"},
			want:   "host=db port=5432 user=app password='' dbname=x sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}
