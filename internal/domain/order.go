package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ оформлен, места списаны, ждёт обработки администратором.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusDone — администратор отметил заказ выполненным.
	OrderStatusDone OrderStatus = "done"
)

const (
	// OrderSequenceID — ключ единственного счётчика номеров заказов.
	OrderSequenceID = "orderNumber"
	orderNumberPrefix = "ORD"
)

// LineItem — одна позиция заказа: урок и количество мест.
type LineItem struct {
	LessonID string
	Qty      int
}

// Order — зафиксированный заказ. После создания меняются только Status и CompletedAt.
type Order struct {
	ID          string
	Number      string
	Name        string
	Phone       string
	Items       []LineItem
	Notes       string
	Status      OrderStatus
	CreatedAt   time.Time
	CompletedAt time.Time
}

// PlacedOrder — результат успешного оформления заказа.
type PlacedOrder struct {
	OrderID string
	Number  string
}

// FormatOrderNumber строит номер вида ORD-2026-0042; больше четырёх цифр не обрезается.
func FormatOrderNumber(year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", orderNumberPrefix, year, seq)
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusDone:
		return true
	default:
		return false
	}
}

// MatchesQuery ищет подстроку без учёта регистра в номере, имени, телефоне и примечании.
func (o *Order) MatchesQuery(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, f := range []string{o.Number, o.Name, o.Phone, o.Notes} {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// Clone возвращает копию заказа с собственным срезом позиций.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]LineItem(nil), o.Items...)
	return dst
}
