package loyalty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPublish(t *testing.T) {
	var got model.Notification
	var eventHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventHeader = r.Header.Get("X-Loyalty-Event")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL)
	require.NoError(t, err)

	n := model.Notification{
		ID:         uuid.New(),
		Type:       model.NotifyRewardIssued,
		MerchantID: uuid.New(),
		CustomerID: uuid.New(),
		RewardCode: "RWD-ABCDEF123456",
		Completed:  0,
		Required:   5,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, hook.Publish(context.Background(), n))
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.RewardCode, got.RewardCode)
	assert.Equal(t, string(model.NotifyRewardIssued), eventHeader)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL)
	require.NoError(t, err)
	err = hook.Publish(context.Background(), model.Notification{ID: uuid.New()})
	assert.Error(t, err)
}

func TestWebhookURLRequired(t *testing.T) {
	_, err := NewWebhook("")
	assert.Error(t, err)
}
