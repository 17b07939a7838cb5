package http

import (
	"context"
	"net/http"
	"time"

	"spendlog/internal/budget"
	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/notify"
	"spendlog/internal/session"
)

type sessionInfo struct {
	UserID   string    `json:"userId"`
	Mode     string    `json:"mode"`
	State    string    `json:"state"`
	OpenedAt time.Time `json:"openedAt"`
}

type statsResponse struct {
	Stats   budget.Stats   `json:"stats"`
	Summary budget.Summary `json:"summary"`
}

type defaultTripRequest struct {
	TripID *string `json:"tripId"`
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	NewResponse().JSON(sessionInfo{
		UserID:   sess.UserID(),
		Mode:     sess.Listener().Mode().String(),
		State:    sess.Listener().State().String(),
		OpenedAt: sess.OpenedAt(),
	}).Write(w)
}

// handleLogout closes the caller's session, cancelling its subscription.
// Logging out without a session is not an error.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		ErrorResponse(http.StatusUnauthorized, err.Error()).Write(w)
		return
	}
	if err := s.sessions.Close(userID); err != nil && !isNoSession(err) {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	NewResponse().JSON(struct {
		Notifications []notify.Notification `json:"notifications"`
	}{sess.Notifications()}).Write(w)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	NewResponse().JSON(sess.Store().Snapshot()).Write(w)
}

func (s *Server) handleRefetch(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.Refetch(r.Context()); err != nil {
		s.writeError(w, r, err, http.StatusBadGateway)
		return
	}
	NewResponse().JSON(sess.Store().Snapshot()).Write(w)
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var in core.TripInput
	if err := DecodeJSON(w, r, &in); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	trip, err := sess.Store().AddTrip(in)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpCreate, log.NewFields().With(log.FieldTripID, trip.ID))
	NewResponse().Status(http.StatusCreated).JSON(trip).Write(w)
}

func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var in core.TripInput
	if err := DecodeJSON(w, r, &in); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	trip, err := sess.Store().UpdateTrip(r.PathValue("tripID"), in)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpUpdate, log.NewFields().With(log.FieldTripID, trip.ID))
	NewResponse().JSON(trip).Write(w)
}

func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	tripID := r.PathValue("tripID")
	if err := sess.Store().DeleteTrip(tripID); err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpDelete, log.NewFields().With(log.FieldTripID, tripID))
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSetDefaultTrip(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req defaultTripRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	tripID := ""
	if req.TripID != nil {
		tripID = *req.TripID
	}
	if err := sess.Store().SetDefaultTrip(tripID); err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	NewResponse().JSON(defaultTripRequest{TripID: sess.Store().Snapshot().DefaultTripID}).Write(w)
}

func (s *Server) handleTripStats(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	snap := sess.Store().Snapshot()
	idx := snap.FindTrip(r.PathValue("tripID"))
	if idx < 0 {
		s.writeError(w, r, core.ErrTripNotFound, http.StatusNotFound)
		return
	}
	stats, err := budget.Compute(snap.Trips[idx], s.rates, s.now())
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	NewResponse().JSON(statsResponse{Stats: stats, Summary: stats.Format()}).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var in core.CategoryInput
	if err := DecodeJSON(w, r, &in); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	c, err := sess.Store().AddCategory(in)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpCreate, log.NewFields().With(log.FieldCategory, c.Name))
	NewResponse().Status(http.StatusCreated).JSON(c).Write(w)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var in core.CategoryInput
	if err := DecodeJSON(w, r, &in); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	c, err := sess.Store().UpdateCategory(r.PathValue("categoryID"), in)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpUpdate, log.NewFields().With(log.FieldCategory, c.Name))
	NewResponse().JSON(c).Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	id := r.PathValue("categoryID")
	if err := sess.Store().DeleteCategory(id); err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.logMutation(r.Context(), sess, log.OpDelete, log.NewFields().With("category_id", id))
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) logMutation(ctx context.Context, sess *session.Session, op string, fields log.LogFields) {
	log.NewStructuredLogger(log.FromContext(ctx)).LogMutation(ctx, sess.UserID(), op, fields)
}
