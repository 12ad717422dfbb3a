package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/service/idempotency"
)

// HeaderReplayed выставляется, если ответ на POST /orders взят из idempotency-кеша.
const HeaderReplayed = "Idempotent-Replayed"

var errNotesNotString = errors.New("notes must be a string")

// orderRequest хранит поля как RawMessage: тип значения проверяет сборщик заказа,
// а не декодер.
type orderRequest struct {
	Name    json.RawMessage `json:"name"`
	Phone   json.RawMessage `json:"phone"`
	Lessons json.RawMessage `json:"lessons"`
	Notes   json.RawMessage `json:"notes"`
}

type lineItemRequest struct {
	ID  json.RawMessage `json:"id"`
	Qty json.RawMessage `json:"qty"`
}

type placeOrderResponse struct {
	InsertedID  string `json:"insertedId"`
	OrderNumber string `json:"orderNumber"`
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	key := r.Header.Get(idempotency.HeaderKey)
	hash := idempotency.RequestHash(r.Method, r.URL.Path, body)
	resp, err := s.guard.Execute(r.Context(), key, hash, func(ctx context.Context) idempotency.Response {
		return s.placeOrder(ctx, body)
	})
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	if resp.Replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// placeOrder разбирает тело и оформляет заказ; результат всегда готовый HTTP-ответ.
func (s *Server) placeOrder(ctx context.Context, body []byte) idempotency.Response {
	input, err := decodeOrderInput(body)
	if err != nil {
		return idempotency.Response{Status: http.StatusBadRequest, Body: errorBody(err.Error())}
	}

	placed, err := s.service.PlaceOrder(ctx, input)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.WithError(err).WithField("name", input.Name).Error("place order failed")
		}
		return idempotency.Response{Status: status, Body: errorBody(msg)}
	}

	out, err := json.Marshal(placeOrderResponse{InsertedID: placed.OrderID, OrderNumber: placed.Number})
	if err != nil {
		s.logger.WithError(err).Error("marshal place order response")
		return idempotency.Response{Status: http.StatusInternalServerError, Body: errorBody(msgInternal)}
	}
	s.logger.WithFields(log.Fields{
		"order_id":     placed.OrderID,
		"order_number": placed.Number,
	}).Debug("order accepted")
	return idempotency.Response{Status: http.StatusCreated, Body: out}
}

// decodeOrderInput переводит JSON в OrderInput. Поле неверного типа превращается
// в пустое значение, и сборщик заказа отклоняет его со своей ошибкой.
func decodeOrderInput(body []byte) (domain.OrderInput, error) {
	var req orderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.OrderInput{}, errors.New(msgInvalidBody)
	}

	input := domain.OrderInput{
		Name:  rawString(req.Name),
		Phone: rawString(req.Phone),
	}
	if len(req.Notes) > 0 && !isNull(req.Notes) {
		if err := json.Unmarshal(req.Notes, &input.Notes); err != nil {
			return domain.OrderInput{}, errNotesNotString
		}
	}

	var items []json.RawMessage
	if len(req.Lessons) > 0 && json.Unmarshal(req.Lessons, &items) == nil && items != nil {
		input.Lessons = make([]domain.LineItemInput, 0, len(items))
		for _, raw := range items {
			var it lineItemRequest
			// Элемент не-объект остаётся пустым и отклоняется как некорректная позиция.
			_ = json.Unmarshal(raw, &it)
			input.Lessons = append(input.Lessons, domain.LineItemInput{
				ID:  rawString(it.ID),
				Qty: json.Number(bytes.TrimSpace(it.Qty)),
			})
		}
	}
	return input, nil
}

// rawString возвращает строковое значение или "" для любого другого JSON-типа.
func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
