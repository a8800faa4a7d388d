package credentials

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePassEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		want    Credentials
		wantErr bool
	}{
		{
			name:  "secret then user",
			entry: "s3cret!\nuser: someone@example.test\n",
			want:  Credentials{Username: "someone@example.test", Secret: "s3cret!"},
		},
		{
			name:  "user line after other metadata",
			entry: "pw\nurl: https://example.test\nUser:  admin \n",
			want:  Credentials{Username: "admin", Secret: "pw"},
		},
		{
			name:    "missing user",
			entry:   "pw\n",
			wantErr: true,
		},
		{
			name:    "empty entry",
			entry:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePassEntry(tt.entry)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPassResolver_Resolve(t *testing.T) {
	var gotArgs []string
	r := &PassResolver{
		Binary: "pass",
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return []byte("hunter2\nuser: ops@example.test\n"), nil
		},
	}

	creds, err := r.Resolve(context.Background(), "att/login")
	require.NoError(t, err)
	assert.Equal(t, []string{"pass", "show", "att/login"}, gotArgs)
	assert.Equal(t, "ops@example.test", creds.Username)
	assert.Equal(t, "hunter2", creds.Secret)
}

func TestPassResolver_CommandFails(t *testing.T) {
	r := &PassResolver{
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		},
	}

	_, err := r.Resolve(context.Background(), "certify/login")
	assert.ErrorContains(t, err, "pass certify/login")
}

func TestCredentials_StringRedactsSecret(t *testing.T) {
	c := Credentials{Username: "u", Secret: "topsecret"}
	assert.NotContains(t, fmt.Sprintf("%v", c), "topsecret")
	assert.NotContains(t, fmt.Sprintf("%+v", c), "topsecret")
	assert.NotContains(t, fmt.Sprintf("%#v", c), "topsecret")
}
