package api

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// ErrorCode - машинно-читаемая категория ошибки.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "validation_failed"
	CodeInsufficientStock ErrorCode = "insufficient_stock"
	CodeContention        ErrorCode = "contention"
	CodeNotFound          ErrorCode = "not_found"
	CodePersistence       ErrorCode = "persistence_failed"
	CodeCanceled          ErrorCode = "canceled"
	CodeInternal          ErrorCode = "internal"
)

// Error - тело ответа об ошибке.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	LineIDs []string  `json:"line_ids,omitempty"`
}

// NewError классифицирует ошибку по таксономии домена.
func NewError(err error) Error {
	if err == nil {
		return Error{}
	}
	result := Error{Code: Classify(err), Message: err.Error()}
	if shortage, ok := domain.AsInsufficientStock(err); ok {
		result.LineIDs = shortage.LineIDs()
	}
	// Детали хранилища наружу не отдаём.
	switch result.Code {
	case CodePersistence:
		result.Message = domain.ErrPersistence.Error()
	case CodeInternal:
		result.Message = "internal error"
	}
	return result
}

// Classify возвращает код категории ошибки.
func Classify(err error) ErrorCode {
	switch {
	case domain.IsValidation(err):
		return CodeValidation
	case domain.IsInsufficientStock(err):
		return CodeInsufficientStock
	case domain.IsContention(err):
		return CodeContention
	case errors.Is(err, domain.ErrSaleNotFound), errors.Is(err, domain.ErrItemNotFound):
		return CodeNotFound
	case domain.IsPersistence(err):
		return CodePersistence
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
