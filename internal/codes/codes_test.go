package loyalty

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewCodesAreRoutable(t *testing.T) {
	id := uuid.New()
	c := NewCustomerCode(id)
	require.True(t, strings.HasPrefix(c, CustomerPrefix))
	require.Equal(t, KindCustomer, Parse(c).Kind, "code=%s", c)

	r := NewRewardCode()
	require.True(t, strings.HasPrefix(r, RewardPrefix))
	require.Equal(t, KindReward, Parse(r).Kind, "code=%s", r)
}

func TestNewCodesUnique(t *testing.T) {
	id := uuid.New()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		c := NewCustomerCode(id)
		_, dup := seen[c]
		require.False(t, dup, "duplicate customer code %s", c)
		seen[c] = struct{}{}

		r := NewRewardCode()
		_, dup = seen[r]
		require.False(t, dup, "duplicate reward code %s", r)
		seen[r] = struct{}{}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw      string
		kind     Kind
		expected string
	}{
		{"CUST-ABCDEF1234", KindCustomer, "CUST-ABCDEF1234"},
		{"  cust-abcdef1234 ", KindCustomer, "CUST-ABCDEF1234"},
		{"RWD-0123456789AB", KindReward, "RWD-0123456789AB"},
		{"REWARD-0123456789AB", KindReward, "REWARD-0123456789AB"},
		{"CUST-", KindInvalid, "CUST-"},
		{"CUST-ABC", KindInvalid, "CUST-ABC"},
		{"RWD-ABC$%^123", KindInvalid, "RWD-ABC$%^123"},
		{"12345678", KindInvalid, "12345678"},
		{"", KindInvalid, ""},
	}

	for _, ts := range tests {
		c := Parse(ts.raw)
		require.Equal(t, ts.kind, c.Kind, "raw=%q", ts.raw)
		require.Equal(t, ts.expected, c.Value, "raw=%q", ts.raw)
	}
}
