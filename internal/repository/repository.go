// Package repository содержит хранилища участников, журнала баллов, наград и заказов.
package repository

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

var (
	// ErrMemberNotFound возвращается, если участник не найден.
	ErrMemberNotFound = errors.New("member not found")
	// ErrMemberExists возвращается при повторной регистрации внешнего пользователя.
	ErrMemberExists = errors.New("member already exists")
	// ErrInsufficientBalance возвращается, если операция увела бы баланс в минус.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateTransaction возвращается при повторной записи с тем же ключом идемпотентности.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrRedemptionCodeExists возвращается при коллизии кода награды.
	ErrRedemptionCodeExists = errors.New("redemption code already exists")
	// ErrOrderExists возвращается при повторной регистрации заказа.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransaction возвращается для записи журнала с неизвестным типом.
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// Guard проверяет заблокированное состояние участника перед фиксацией изменений.
// Ненулевая ошибка отменяет операцию и возвращается вызывающему без обёртки.
type Guard func(locked model.Member) error

// RedemptionCommit описывает атомарную запись обмена: списание, запись журнала и награду.
type RedemptionCommit struct {
	MemberID    string
	Redemption  model.Redemption
	Transaction model.Transaction
	Validate    Guard
}

// LedgerCheck содержит результат сверки сохранённого баланса с суммой журнала.
type LedgerCheck struct {
	Stored int64
	Sum    int64
}

// Consistent сообщает, совпадает ли баланс с журналом.
func (c LedgerCheck) Consistent() bool {
	return c.Stored == c.Sum
}

func checkTransaction(t model.Transaction) error {
	if !t.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, t.Type)
	}
	return nil
}
