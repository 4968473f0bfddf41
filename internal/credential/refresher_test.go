package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/pkg/types"
)

func TestOAuthRefresher(t *testing.T) {
	var grants []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		grants = append(grants, r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-" + r.Form.Get("refresh_token"),
			"refresh_token": "rotated",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	r, err := NewOAuthRefresher(types.AuthConfig{
		TokenURL:     srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "initial",
	}, srv.Client())
	require.NoError(t, err)

	tok, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-initial", tok)

	tok, err = r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-rotated", tok)
	assert.Equal(t, []string{"initial", "rotated"}, grants)
}

func TestOAuthRefresher_GrantRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	r, err := NewOAuthRefresher(types.AuthConfig{TokenURL: srv.URL, RefreshToken: "revoked"}, srv.Client())
	require.NoError(t, err)

	_, err = r.Refresh(context.Background())
	assert.Error(t, err)
}

func TestNewOAuthRefresher_RequiresFields(t *testing.T) {
	_, err := NewOAuthRefresher(types.AuthConfig{RefreshToken: "x"}, nil)
	assert.Error(t, err)
	_, err = NewOAuthRefresher(types.AuthConfig{TokenURL: "http://localhost"}, nil)
	assert.Error(t, err)
}

func TestNewRefresher_WithoutTokenURL(t *testing.T) {
	r, err := NewRefresher(types.AuthConfig{}, nil)
	require.NoError(t, err)
	tok, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
}

type mockSecrets struct {
	getFn func(ctx context.Context, in *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *mockSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return m.getFn(ctx, in)
}

func TestLoadSecret(t *testing.T) {
	api := &mockSecrets{getFn: func(_ context.Context, in *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
		assert.Equal(t, "tally/prod", aws.ToString(in.SecretId))
		return &secretsmanager.GetSecretValueOutput{
			SecretString: aws.String(`{"clientId":"cid","clientSecret":"cs","refreshToken":"rt"}`),
		}, nil
	}}

	s, err := LoadSecret(context.Background(), api, "tally/prod")
	require.NoError(t, err)

	cfg := types.AuthConfig{ClientID: "configured"}
	s.Apply(&cfg)
	assert.Equal(t, "configured", cfg.ClientID)
	assert.Equal(t, "cs", cfg.ClientSecret)
	assert.Equal(t, "rt", cfg.RefreshToken)
}

func TestLoadSecret_Malformed(t *testing.T) {
	api := &mockSecrets{getFn: func(context.Context, *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
		return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("not json")}, nil
	}}
	_, err := LoadSecret(context.Background(), api, "x")
	assert.Error(t, err)

	api.getFn = func(context.Context, *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
		return &secretsmanager.GetSecretValueOutput{}, nil
	}
	_, err = LoadSecret(context.Background(), api, "x")
	assert.Error(t, err)
}
