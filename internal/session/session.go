// Package session ties together everything one signed-in user needs: the
// ledger store, the listener that keeps it in step with the backend and the
// queue of notifications waiting to be shown.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/inference"
	"spendlog/internal/ledger"
	"spendlog/internal/log"
	"spendlog/internal/notify"
	"spendlog/internal/reconcile"
)

// quickExpenseFailed prefixes the notification shown when a quick expense
// cannot be recorded.
const quickExpenseFailed = "Impossibile aggiungere: "

// Session is the state of one signed-in user. It is created by
// Manager.Open and torn down by Manager.Close.
type Session struct {
	userID   string
	store    *ledger.Store
	listener *reconcile.Listener
	notices  *notify.Buffer
	notifier notify.Notifier
	inferrer inference.Inferrer
	now      func() time.Time
	logger   *log.Logger
	openedAt time.Time
}

func (s *Session) UserID() string                { return s.userID }
func (s *Session) Store() *ledger.Store          { return s.store }
func (s *Session) Listener() *reconcile.Listener { return s.listener }
func (s *Session) OpenedAt() time.Time           { return s.openedAt }

// Notifications drains the pending notifications, oldest first.
func (s *Session) Notifications() []notify.Notification { return s.notices.Drain() }

// WaitReady blocks until the store holds its first snapshot.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.listener.Ready():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for ledger: %w", ctx.Err())
	}
}

// Refetch re-reads the stored ledger through the listener.
func (s *Session) Refetch(ctx context.Context) error {
	return s.listener.Refetch(ctx)
}

// QuickExpense asks the inference collaborator to read prompt and records
// the resulting expense on tripID, dated now, in the country of its
// currency. On any failure after the prompt is accepted a notification is
// raised and the ledger is left untouched.
func (s *Session) QuickExpense(ctx context.Context, tripID, prompt string) (core.Expense, error) {
	if s.inferrer == nil {
		return core.Expense{}, inference.ErrUnavailable
	}
	if strings.TrimSpace(prompt) == "" {
		return core.Expense{}, inference.ErrEmptyPrompt
	}
	snap := s.store.Snapshot()
	if snap == nil {
		return core.Expense{}, ledger.ErrNotLoaded
	}
	idx := snap.FindTrip(tripID)
	if idx < 0 {
		return core.Expense{}, core.ErrTripNotFound
	}
	trip := snap.Trips[idx]
	now := s.now()
	req := inference.Request{
		Prompt:       prompt,
		Currencies:   trip.PreferredCurrencies,
		Categories:   snap.CategoryNames(),
		MainCurrency: trip.MainCurrency,
		Today:        now,
	}

	suggestion, err := s.inferrer.Infer(ctx, req)
	if err != nil {
		return core.Expense{}, s.quickExpenseFailed(ctx, tripID, err)
	}
	suggestion, err = suggestion.Validate(req)
	if err != nil {
		return core.Expense{}, s.quickExpenseFailed(ctx, tripID, err)
	}
	e, err := s.store.AddExpense(tripID, core.ExpenseInput{
		Amount:   suggestion.Amount,
		Currency: suggestion.Currency,
		Category: suggestion.Category,
		Date:     now,
		Country:  core.CountryForCurrency(suggestion.Currency),
	})
	if err != nil {
		return core.Expense{}, s.quickExpenseFailed(ctx, tripID, err)
	}
	s.logger.InfoContext(ctx, "Quick expense recorded",
		log.FieldOperation, log.OpInfer,
		log.FieldTripID, tripID,
		log.FieldExpenseID, e.ID,
		log.FieldAmount, e.Amount,
		log.FieldCurrency, e.Currency)
	return e, nil
}

func (s *Session) quickExpenseFailed(ctx context.Context, tripID string, err error) error {
	s.logger.WarnContext(ctx, "Quick expense failed",
		log.FieldOperation, log.OpInfer,
		log.FieldTripID, tripID,
		log.FieldError, err)
	s.notifier.Notify(notify.LevelError, quickExpenseFailed+err.Error())
	return fmt.Errorf("quick expense: %w", err)
}

// close stops the listener first so no snapshot lands on a closed store,
// then drains pending saves.
func (s *Session) close() error {
	return errors.Join(s.listener.Close(), s.store.Close())
}
