package loyalty

import (
	"encoding/json"
	"net/http"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
	services "github.com/glkeru/washloyalty/internal/services"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LoyaltyHandler struct {
	router *mux.Router
	serv   *services.LoyaltyService
	logger *zap.Logger
}

type errorResponse struct {
	Error  string               `json:"error"`
	Reason model.Reason         `json:"reason,omitempty"`
	Reward *model.RewardSummary `json:"reward,omitempty"`
}

type scanRequest struct {
	Code string `json:"code"`
}

type washRequest struct {
	CustomerCode string          `json:"customerCode"`
	Service      string          `json:"service"`
	Price        decimal.Decimal `json:"price"`
}

type enrollRequest struct {
	CustomerID uuid.UUID `json:"customerId"`
}

type pauseRequest struct {
	Paused bool       `json:"paused"`
	Until  *time.Time `json:"until,omitempty"`
}

type merchantRequest struct {
	ID                    uuid.UUID                `json:"id"`
	Name                  string                   `json:"name"`
	Status                model.SubscriptionStatus `json:"status"`
	SubscriptionExpiresAt *time.Time               `json:"subscriptionExpiresAt,omitempty"`
	WashesRequired        int                      `json:"washesRequired"`
	RewardValidityDays    int                      `json:"rewardValidityDays"`
	CardValidityDays      int                      `json:"cardValidityDays"`
	AntiFraudSameDay      bool                     `json:"antiFraudSameDay"`
	Timezone              string                   `json:"timezone"`
}

type merchantResponse struct {
	ID                    uuid.UUID                `json:"id"`
	Name                  string                   `json:"name"`
	Status                model.SubscriptionStatus `json:"status"`
	SubscriptionExpiresAt *time.Time               `json:"subscriptionExpiresAt,omitempty"`
	WashesRequired        int                      `json:"washesRequired"`
	RewardValidityDays    int                      `json:"rewardValidityDays"`
	CardValidityDays      int                      `json:"cardValidityDays"`
	AntiFraudSameDay      bool                     `json:"antiFraudSameDay"`
	Timezone              string                   `json:"timezone"`
}

type customerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type customerResponse struct {
	ID    uuid.UUID `json:"id"`
	Code  string    `json:"code"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
}

type codeResponse struct {
	Code string `json:"code"`
}

func NewHandler(serv *services.LoyaltyService, logger *zap.Logger) *LoyaltyHandler {
	router := mux.NewRouter()
	handler := &LoyaltyHandler{router, serv, logger}

	router.Use(MiddlewareLog())

	router.HandleFunc("/merchants", handler.RegisterMerchantHandler).Methods(http.MethodPost)
	router.HandleFunc("/customers", handler.RegisterCustomerHandler).Methods(http.MethodPost)
	router.HandleFunc("/customers/{customerId}/code", handler.ReissueCodeHandler).Methods(http.MethodPost)

	m := router.PathPrefix("/merchants/{merchantId}").Subrouter()
	m.HandleFunc("/scan", handler.ScanHandler).Methods(http.MethodPost)
	m.HandleFunc("/customers/{code}", handler.ResolveHandler).Methods(http.MethodGet)
	m.HandleFunc("/washes", handler.RecordWashHandler).Methods(http.MethodPost)
	m.HandleFunc("/rewards/{code}", handler.ValidateRewardHandler).Methods(http.MethodGet)
	m.HandleFunc("/rewards/{code}/redeem", handler.RedeemRewardHandler).Methods(http.MethodPost)
	m.HandleFunc("/enrollments", handler.EnrollHandler).Methods(http.MethodPost)
	m.HandleFunc("/progress/{customerId}", handler.ProgressHandler).Methods(http.MethodGet)
	m.HandleFunc("/pause", handler.PauseProgramHandler).Methods(http.MethodPost)
	m.HandleFunc("/progress/{customerId}/pause", handler.PauseCardHandler).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return handler
}

func (h *LoyaltyHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.router.ServeHTTP(w, req)
}

func (h *LoyaltyHandler) Log(msg string, service string, err error) {
	h.logger.Error(msg,
		zap.String("service", service),
		zap.Error(err),
	)
}

// StatusCode - HTTP статус по виду ошибки движка
func StatusCode(err error) int {
	e, ok := model.AsEngineError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindPolicy:
		return http.StatusUnprocessableEntity
	case model.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *LoyaltyHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	j, err := json.Marshal(v)
	if err != nil {
		h.Log("Marshal", "writeJSON", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(j)
}

func (h *LoyaltyHandler) writeError(w http.ResponseWriter, service string, err error, reward *model.RewardSummary) {
	status := StatusCode(err)
	resp := errorResponse{Error: err.Error(), Reward: reward}
	if e, ok := model.AsEngineError(err); ok {
		resp.Reason = e.Reason
	} else {
		h.Log("Internal", service, err)
		resp.Error = "internal error"
	}
	h.writeJSON(w, status, resp)
}

func (h *LoyaltyHandler) decode(w http.ResponseWriter, req *http.Request, service string, v any) bool {
	defer req.Body.Close()
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		h.writeError(w, service, model.ErrMissingField.With("body is not correct"), nil)
		return false
	}
	return true
}

func (h *LoyaltyHandler) uuidVar(w http.ResponseWriter, req *http.Request, service string, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(req)[name])
	if err != nil {
		h.writeError(w, service, model.ErrMissingField.With(name+" is not a uuid"), nil)
		return uuid.Nil, false
	}
	return id, true
}

// Сканирование кода (клиент или награда)
func (h *LoyaltyHandler) ScanHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "ScanHandler", "merchantId")
	if !ok {
		return
	}
	body := &scanRequest{}
	if !h.decode(w, req, "ScanHandler", body) {
		return
	}
	res, err := h.serv.Scan(req.Context(), merchantID, body.Code)
	if err != nil {
		var reward *model.RewardSummary
		if res != nil {
			reward = res.Reward
		}
		h.writeError(w, "ScanHandler", err, reward)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Сводка по коду клиента
func (h *LoyaltyHandler) ResolveHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "ResolveHandler", "merchantId")
	if !ok {
		return
	}
	summary, err := h.serv.ResolveCustomerCode(req.Context(), merchantID, mux.Vars(req)["code"])
	if err != nil {
		h.writeError(w, "ResolveHandler", err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Запись мойки
func (h *LoyaltyHandler) RecordWashHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "RecordWashHandler", "merchantId")
	if !ok {
		return
	}
	body := &washRequest{}
	if !h.decode(w, req, "RecordWashHandler", body) {
		return
	}
	res, err := h.serv.RecordWash(req.Context(), merchantID, body.CustomerCode, body.Service, body.Price)
	if err != nil {
		h.writeError(w, "RecordWashHandler", err, nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

// Проверка награды
func (h *LoyaltyHandler) ValidateRewardHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "ValidateRewardHandler", "merchantId")
	if !ok {
		return
	}
	summary, err := h.serv.ValidateReward(req.Context(), merchantID, mux.Vars(req)["code"])
	if err != nil {
		h.writeError(w, "ValidateRewardHandler", err, summary)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Погашение награды
func (h *LoyaltyHandler) RedeemRewardHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "RedeemRewardHandler", "merchantId")
	if !ok {
		return
	}
	res, err := h.serv.RedeemReward(req.Context(), merchantID, mux.Vars(req)["code"])
	if err != nil {
		var reward *model.RewardSummary
		if res != nil {
			reward = &res.RewardSummary
		}
		h.writeError(w, "RedeemRewardHandler", err, reward)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Запись клиента в программу
func (h *LoyaltyHandler) EnrollHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "EnrollHandler", "merchantId")
	if !ok {
		return
	}
	body := &enrollRequest{}
	if !h.decode(w, req, "EnrollHandler", body) {
		return
	}
	summary, err := h.serv.Progress(req.Context(), merchantID, body.CustomerID)
	if err != nil {
		h.writeError(w, "EnrollHandler", err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Карточка клиента
func (h *LoyaltyHandler) ProgressHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "ProgressHandler", "merchantId")
	if !ok {
		return
	}
	customerID, ok := h.uuidVar(w, req, "ProgressHandler", "customerId")
	if !ok {
		return
	}
	summary, err := h.serv.Progress(req.Context(), merchantID, customerID)
	if err != nil {
		h.writeError(w, "ProgressHandler", err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Пауза программы мерчанта
func (h *LoyaltyHandler) PauseProgramHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "PauseProgramHandler", "merchantId")
	if !ok {
		return
	}
	body := &pauseRequest{}
	if !h.decode(w, req, "PauseProgramHandler", body) {
		return
	}
	if err := h.serv.PauseProgram(req.Context(), merchantID, body.Paused, body.Until); err != nil {
		h.writeError(w, "PauseProgramHandler", err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Пауза карточки клиента
func (h *LoyaltyHandler) PauseCardHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, ok := h.uuidVar(w, req, "PauseCardHandler", "merchantId")
	if !ok {
		return
	}
	customerID, ok := h.uuidVar(w, req, "PauseCardHandler", "customerId")
	if !ok {
		return
	}
	body := &pauseRequest{}
	if !h.decode(w, req, "PauseCardHandler", body) {
		return
	}
	if err := h.serv.PauseCard(req.Context(), merchantID, customerID, body.Paused, body.Until); err != nil {
		h.writeError(w, "PauseCardHandler", err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Регистрация мерчанта
func (h *LoyaltyHandler) RegisterMerchantHandler(w http.ResponseWriter, req *http.Request) {
	body := &merchantRequest{}
	if !h.decode(w, req, "RegisterMerchantHandler", body) {
		return
	}
	m, err := h.serv.RegisterMerchant(req.Context(), model.Merchant{
		ID:                    body.ID,
		Name:                  body.Name,
		Status:                body.Status,
		SubscriptionExpiresAt: body.SubscriptionExpiresAt,
		Policy: model.Policy{
			WashesRequired:     body.WashesRequired,
			RewardValidityDays: body.RewardValidityDays,
			CardValidityDays:   body.CardValidityDays,
			AntiFraudSameDay:   body.AntiFraudSameDay,
			Timezone:           body.Timezone,
		},
	})
	if err != nil {
		h.writeError(w, "RegisterMerchantHandler", err, nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, merchantResponse{
		ID:                    m.ID,
		Name:                  m.Name,
		Status:                m.Status,
		SubscriptionExpiresAt: m.SubscriptionExpiresAt,
		WashesRequired:        m.Policy.WashesRequired,
		RewardValidityDays:    m.Policy.RewardValidityDays,
		CardValidityDays:      m.Policy.CardValidityDays,
		AntiFraudSameDay:      m.Policy.AntiFraudSameDay,
		Timezone:              m.Policy.Timezone,
	})
}

// Регистрация клиента
func (h *LoyaltyHandler) RegisterCustomerHandler(w http.ResponseWriter, req *http.Request) {
	body := &customerRequest{}
	if !h.decode(w, req, "RegisterCustomerHandler", body) {
		return
	}
	c, err := h.serv.RegisterCustomer(req.Context(), body.Name, body.Phone)
	if err != nil {
		h.writeError(w, "RegisterCustomerHandler", err, nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, customerResponse{c.ID, c.Code, c.Name, c.Phone})
}

// Перевыпуск кода клиента
func (h *LoyaltyHandler) ReissueCodeHandler(w http.ResponseWriter, req *http.Request) {
	customerID, ok := h.uuidVar(w, req, "ReissueCodeHandler", "customerId")
	if !ok {
		return
	}
	code, err := h.serv.ReissueCustomerCode(req.Context(), customerID)
	if err != nil {
		h.writeError(w, "ReissueCodeHandler", err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, codeResponse{code})
}
