// Коды клиентов и наград: префикс + случайная часть.
// Разбор кода делается один раз на входе, дальше работаем с Code.Kind
package loyalty

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const (
	CustomerPrefix     = "CUST-"
	RewardPrefix       = "RWD-"
	LegacyRewardPrefix = "REWARD-"

	customerPayloadLen = 10
	rewardPayloadLen   = 12
	minPayload         = 6
	maxPayload         = 32
)

type Kind int

const (
	KindInvalid Kind = iota
	KindCustomer
	KindReward
)

func (k Kind) String() string {
	switch k {
	case KindCustomer:
		return "customer"
	case KindReward:
		return "reward"
	}
	return "invalid"
}

// Code - разобранный код
type Code struct {
	Kind  Kind
	Value string // нормализованный код целиком, с префиксом
}

// NewCustomerCode: хэш от id клиента и случайной соли
func NewCustomerCode(customerID uuid.UUID) string {
	salt := uuid.New()
	h := sha256.New()
	h.Write(customerID[:])
	h.Write(salt[:])
	sum := strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
	return CustomerPrefix + sum[:customerPayloadLen]
}

// NewRewardCode: случайная часть из uuid v4
func NewRewardCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return RewardPrefix + raw[:rewardPayloadLen]
}

// Parse нормализует и классифицирует отсканированную строку
func Parse(raw string) Code {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(s, CustomerPrefix):
		if validPayload(s[len(CustomerPrefix):]) {
			return Code{KindCustomer, s}
		}
	case strings.HasPrefix(s, RewardPrefix):
		if validPayload(s[len(RewardPrefix):]) {
			return Code{KindReward, s}
		}
	case strings.HasPrefix(s, LegacyRewardPrefix):
		if validPayload(s[len(LegacyRewardPrefix):]) {
			return Code{KindReward, s}
		}
	}
	return Code{Kind: KindInvalid, Value: s}
}

func validPayload(p string) bool {
	if len(p) < minPayload || len(p) > maxPayload {
		return false
	}
	for _, r := range p {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
