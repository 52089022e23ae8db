package http

import (
	"net/http"
	"time"

	"fintrack/internal/core"
)

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	items, err := s.records.ListSubscriptions(r.Context(), userFrom(r))
	if err != nil {
		writeRecordError(w, r, "list subscriptions", err)
		return
	}
	writeOK(w, listOf(items))
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var sub core.Subscription
	if err := decodeJSON(w, r, &sub); err != nil {
		writeRecordError(w, r, "create subscription", err)
		return
	}
	sub.ID = 0
	sub.UserID = userFrom(r)
	// Scheduling state is owned by the subscription worker.
	sub.LastExecution = time.Time{}

	created, err := s.records.CreateSubscription(r.Context(), sub)
	if err != nil {
		writeRecordError(w, r, "create subscription", err)
		return
	}
	writeCreated(w, created)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "get subscription", err)
		return
	}
	sub, err := s.records.GetSubscription(r.Context(), userFrom(r), id)
	if err != nil {
		writeRecordError(w, r, "get subscription", err)
		return
	}
	writeOK(w, sub)
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "update subscription", err)
		return
	}
	var sub core.Subscription
	if err := decodeJSON(w, r, &sub); err != nil {
		writeRecordError(w, r, "update subscription", err)
		return
	}
	sub.ID = id
	sub.UserID = userFrom(r)
	sub.LastExecution = time.Time{}

	updated, err := s.records.UpdateSubscription(r.Context(), sub)
	if err != nil {
		writeRecordError(w, r, "update subscription", err)
		return
	}
	writeOK(w, updated)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "delete subscription", err)
		return
	}
	if err := s.records.DeleteSubscription(r.Context(), userFrom(r), id); err != nil {
		writeRecordError(w, r, "delete subscription", err)
		return
	}
	writeNoContent(w)
}
