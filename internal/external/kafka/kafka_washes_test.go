package loyalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWashMessage(t *testing.T) {
	wash, err := ParseWashMessage([]byte(`{"merchantId":"7f1c0a52-3f5e-4d8b-9a57-6a0f0c9e1b11","customerCode":"CUST-A1B2C3D4E5","service":"full","price":"12.50"}`))
	require.NoError(t, err)
	assert.Equal(t, "CUST-A1B2C3D4E5", wash.CustomerCode)
	assert.True(t, wash.Price.Equal(decimal.RequireFromString("12.50")))

	_, err = ParseWashMessage([]byte(`{"customerCode":"CUST-A1B2C3D4E5"}`))
	assert.Error(t, err)

	_, err = ParseWashMessage([]byte(`{"merchantId":"7f1c0a52-3f5e-4d8b-9a57-6a0f0c9e1b11"}`))
	assert.Error(t, err)

	_, err = ParseWashMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestReaderRequiresBrokers(t *testing.T) {
	_, err := GetNewReader("", "washes", "loyalty")
	assert.Error(t, err)
	_, err = NewEventWriter("", "loyalty_events")
	assert.Error(t, err)
}
