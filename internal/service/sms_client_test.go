package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"relief-ussd/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotifyOutcome_PostsGatewayForm(t *testing.T) {
	received := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		received <- r
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewSMSClient(config.SMSConfig{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		Username: "sandbox",
		Sender:   "RELIEF",
	}, zap.NewNop())

	client.NotifyOutcome(context.Background(), OutcomeNotification{
		PhoneHash:       "phone-a",
		ReferenceNumber: "ER260828A3F01B",
		Outcome:         "MATCHED",
		ResourceName:    "Lokoja Camp",
	})

	r := <-received
	assert.Equal(t, "/version1/messaging", r.URL.Path)
	assert.Equal(t, "test-key", r.Header.Get("apiKey"))
	assert.Equal(t, "sandbox", r.PostFormValue("username"))
	assert.Equal(t, "RELIEF", r.PostFormValue("from"))
	assert.Contains(t, r.PostFormValue("message"), "ER260828A3F01B")
	assert.Contains(t, r.PostFormValue("message"), "Lokoja Camp")
}

func TestNotifyOutcome_GatewayErrorIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewSMSClient(config.SMSConfig{BaseURL: srv.URL}, zap.NewNop())

	// Delivery is best-effort; a gateway failure must not panic or block.
	client.NotifyOutcome(context.Background(), OutcomeNotification{
		ReferenceNumber: "ER260828000000",
		Outcome:         "EXHAUSTED",
		ServiceType:     "shelter",
		Location:        "lokoja",
	})
}
