package api

import (
	"errors"
	"net/http"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
)

type subscriptionRequest struct {
	ProductID int64  `json:"product_id"`
	Email     string `json:"email"`
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Store.ListSubscriptions(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if req.ProductID <= 0 {
		s.writeErr(w, r, crawler.E(crawler.KindInvalidInput, "api.createSubscription", errors.New("product_id required")))
		return
	}
	s.subscribe(w, r, req.ProductID, req.Email)
}

func (s *Server) productSubscriptions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	subs, err := s.deps.Store.ListSubscriptionsByProduct(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) subscribeProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.subscribe(w, r, id, req.Email)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, productID int64, email string) {
	if _, err := s.deps.Store.GetProduct(r.Context(), productID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	sub, err := s.deps.Store.CreateSubscription(r.Context(), productID, email)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.deps.Store.DeleteSubscription)
}

func (s *Server) checkReminders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reminders == nil {
		s.writeErr(w, r, crawler.E(crawler.KindConfigMissing, "api.checkReminders", errors.New("reminders are not configured")))
		return
	}
	report, err := s.deps.Reminders.CheckReminders(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
