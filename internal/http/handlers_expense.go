package http

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"strings"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/session"
	"spendlog/internal/window"
)

// expensePage is the visible slice of a trip's expense list.
type expensePage struct {
	Total       int               `json:"total"`
	Start       int               `json:"start"`
	End         int               `json:"end"`
	TotalHeight float64           `json:"totalHeight"`
	Items       []windowedExpense `json:"items"`
}

type windowedExpense struct {
	Index   int          `json:"index"`
	Offset  float64      `json:"offset"`
	Expense core.Expense `json:"expense"`
}

type quickExpenseRequest struct {
	Prompt string `json:"prompt"`
}

// handleListExpenses returns only the rows a virtual list needs for the
// given scroll geometry, newest expense first.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	snap := sess.Store().Snapshot()
	idx := snap.FindTrip(r.PathValue("tripID"))
	if idx < 0 {
		s.writeError(w, r, core.ErrTripNotFound, http.StatusNotFound)
		return
	}
	expenses := newestFirst(snap.Trips[idx].Expenses)

	params, err := ParseWindowParams(r.URL.Query(), len(expenses))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	win := window.Compute(params)
	visible := window.Slice(expenses, win)

	page := expensePage{
		Total:       len(expenses),
		Start:       win.Start,
		End:         win.End,
		TotalHeight: win.TotalHeight,
		Items:       make([]windowedExpense, len(visible)),
	}
	for i, e := range visible {
		page.Items[i] = windowedExpense{Index: win.Items[i].Index, Offset: win.Items[i].Offset, Expense: e}
	}
	NewResponse().JSON(page).Write(w)
}

// newestFirst orders expenses by date, latest first. Ids are creation
// timestamps, so they break ties in creation order.
func newestFirst(in []core.Expense) []core.Expense {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b core.Expense) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(len(b.ID), len(a.ID)); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var in core.ExpenseInput
	if err := DecodeJSON(w, r, &in); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	tripID := r.PathValue("tripID")
	e, err := sess.Store().AddExpense(tripID, in)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpCreate,
		log.NewFields().WithExpense(tripID, e.ID, e.Amount, e.Currency, e.Category))
	NewResponse().Status(http.StatusCreated).JSON(e).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var in core.ExpenseInput
	if err := DecodeJSON(w, r, &in); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	tripID := r.PathValue("tripID")
	e, err := sess.Store().UpdateExpense(tripID, r.PathValue("expenseID"), in)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpUpdate,
		log.NewFields().WithExpense(tripID, e.ID, e.Amount, e.Currency, e.Category))
	NewResponse().JSON(e).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	tripID, expenseID := r.PathValue("tripID"), r.PathValue("expenseID")
	if err := sess.Store().DeleteExpense(tripID, expenseID); err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpDelete,
		log.NewFields().With(log.FieldTripID, tripID).With(log.FieldExpenseID, expenseID))
	NewResponse().Status(http.StatusNoContent).Write(w)
}

// handleQuickExpense records an expense read from free text by the
// inference collaborator. Collaborator failures answer 502.
func (s *Server) handleQuickExpense(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req quickExpenseRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.inferTimeout)
	defer cancel()
	e, err := sess.QuickExpense(ctx, r.PathValue("tripID"), req.Prompt)
	if err != nil {
		s.writeError(w, r, err, http.StatusBadGateway)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(e).Write(w)
}
