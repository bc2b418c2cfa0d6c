package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"sis-grade-sync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledIsNop(t *testing.T) {
	assert.IsType(t, Nop{}, New(config.NotifyConfig{}, "sis-grade-sync"))
	assert.IsType(t, Nop{}, New(config.NotifyConfig{Enabled: true, APIKey: "k"}, "sis-grade-sync"))
	assert.NoError(t, Nop{}.Notify(context.Background(), "s", "b"))
}

func TestSendGrid_Notify(t *testing.T) {
	var got struct {
		From struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"from"`
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
			Subject string `json:"subject"`
		} `json:"personalizations"`
		Content []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"content"`
	}
	var auth, path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := NewSendGrid(config.NotifyConfig{
		Enabled:   true,
		APIKey:    "SG.test",
		FromEmail: "noreply@example.edu",
		Admins:    []string{"registrar@example.edu", "it@example.edu"},
	}, "sis-grade-sync", srv.URL)

	err := notifier.Notify(context.Background(), "post_grades ODL finished OK", "Processed: 3")
	require.NoError(t, err)

	assert.Equal(t, "Bearer SG.test", auth)
	assert.Equal(t, "/v3/mail/send", path)
	assert.Equal(t, "noreply@example.edu", got.From.Email)
	assert.Equal(t, "sis-grade-sync", got.From.Name)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "[sis-grade-sync] post_grades ODL finished OK", got.Personalizations[0].Subject)
	require.Len(t, got.Personalizations[0].To, 2)
	assert.Equal(t, "it@example.edu", got.Personalizations[0].To[1].Email)
	require.Len(t, got.Content, 1)
	assert.Equal(t, "Processed: 3", got.Content[0].Value)
}

func TestSendGrid_NotifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	notifier := NewSendGrid(config.NotifyConfig{APIKey: "bad", FromEmail: "noreply@example.edu", Admins: []string{"a@example.edu"}}, "app", srv.URL)
	err := notifier.Notify(context.Background(), "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}
