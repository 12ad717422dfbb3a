package domain

import (
	"encoding/json"
	"math"
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxNotesLen = 250

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z\s]{2,50}$`)
	phonePattern = regexp.MustCompile(`^0\d{10}$`)
)

// OrderInput — сырые данные заказа в том виде, в каком они пришли от клиента.
type OrderInput struct {
	Name  string
	Phone string
	// Lessons == nil означает, что поле отсутствовало или не было массивом.
	Lessons []LineItemInput
	Notes   string
}

// LineItemInput — сырая позиция заказа. Qty хранится как json.Number,
// чтобы отличать дробные и нечисловые значения от целых.
type LineItemInput struct {
	ID  string
	Qty json.Number
}

// ValidatedOrder — заказ, прошедший проверку и готовый к резервированию.
type ValidatedOrder struct {
	Name  string
	Phone string
	Items []LineItem
	Notes string
}

// AssembleOrder проверяет входные данные и нормализует их. Функция не делает I/O.
func AssembleOrder(raw OrderInput) (ValidatedOrder, error) {
	if !namePattern.MatchString(raw.Name) || hasControl(raw.Name, false) {
		return ValidatedOrder{}, &ValidationError{Kind: ErrInvalidName, Field: "name", Index: -1}
	}
	if !phonePattern.MatchString(raw.Phone) {
		return ValidatedOrder{}, &ValidationError{Kind: ErrInvalidPhone, Field: "phone", Index: -1}
	}
	if len(raw.Lessons) == 0 {
		return ValidatedOrder{}, &ValidationError{Kind: ErrInvalidLessons, Field: "lessons", Index: -1}
	}

	items := make([]LineItem, 0, len(raw.Lessons))
	for idx, in := range raw.Lessons {
		id, err := uuid.Parse(in.ID)
		if in.ID == "" || err != nil {
			return ValidatedOrder{}, &ValidationError{Kind: ErrInvalidLineItem, Field: "id", Index: idx}
		}
		qty, ok := positiveQty(in.Qty)
		if !ok {
			return ValidatedOrder{}, &ValidationError{Kind: ErrInvalidLineItem, Field: "qty", Index: idx}
		}
		// Каноническая форма UUID, чтобы разные записи одного id попадали в один счётчик.
		items = append(items, LineItem{LessonID: id.String(), Qty: qty})
	}

	if utf8.RuneCountInString(raw.Notes) > maxNotesLen {
		return ValidatedOrder{}, &ValidationError{Kind: ErrNotesTooLong, Field: "notes", Index: -1}
	}
	if !utf8.ValidString(raw.Notes) || hasControl(raw.Notes, true) {
		return ValidatedOrder{}, &ValidationError{Kind: ErrInvalidNotes, Field: "notes", Index: -1}
	}

	return ValidatedOrder{
		Name:  raw.Name,
		Phone: raw.Phone,
		Items: items,
		Notes: raw.Notes,
	}, nil
}

// IsLessonID проверяет, что строка — корректный идентификатор урока (UUID).
func IsLessonID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// hasControl ищет NUL и прочие управляющие символы C0/C1 и DEL.
// Для многострочного текста допускаются перевод строки, возврат каретки и табуляция.
func hasControl(s string, multiline bool) bool {
	for _, r := range s {
		if multiline && (r == '\n' || r == '\r' || r == '\t') {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// positiveQty допускает значения до MaxInt32: больше мест ни у одного урока быть не может,
// поэтому такое количество считается ошибкой позиции, а не нехваткой мест.
func positiveQty(n json.Number) (int, bool) {
	v, err := n.Int64()
	if err != nil || v <= 0 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}
