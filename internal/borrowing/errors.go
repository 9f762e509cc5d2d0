package borrowing

import (
	"errors"
	"fmt"

	"bookwise/internal/shared/apperr"
)

// 借阅业务错误，均可用 errors.Is(err, apperr.ErrNotEligible) 判断
var (
	ErrBookUnavailable = fmt.Errorf("%w: book unavailable", apperr.ErrNotEligible)
	ErrAlreadyBorrowed = fmt.Errorf("%w: book already borrowed", apperr.ErrNotEligible)
	ErrNotApproved     = fmt.Errorf("%w: account is not approved", apperr.ErrNotEligible)
	ErrOverdueLoans    = fmt.Errorf("%w: overdue loans must be returned first", apperr.ErrNotEligible)
	ErrLoanLimit       = fmt.Errorf("%w: active loan limit reached", apperr.ErrNotEligible)
	ErrAlreadyReturned = fmt.Errorf("%w: loan already returned", apperr.ErrNotEligible)
)

// result 指标标签
func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrBookUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAlreadyBorrowed):
		return "already_borrowed"
	case apperr.CodeOf(err) == apperr.CodeNotEligible:
		return "not_eligible"
	case apperr.CodeOf(err) == apperr.CodeNotFound:
		return "not_found"
	case apperr.CodeOf(err) == apperr.CodeValidation:
		return "invalid"
	default:
		return "error"
	}
}
