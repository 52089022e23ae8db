package http

import (
	"net/http"

	"fintrack/internal/core"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePeriod(r.URL.Query())
	if err != nil {
		writeRecordError(w, r, "list expenses", err)
		return
	}
	items, err := s.records.ListExpenses(r.Context(), userFrom(r), p)
	if err != nil {
		writeRecordError(w, r, "list expenses", err)
		return
	}
	writeOK(w, listOf(items))
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var e core.Expense
	if err := decodeJSON(w, r, &e); err != nil {
		writeRecordError(w, r, "create expense", err)
		return
	}
	e.ID = 0
	e.UserID = userFrom(r)

	created, err := s.records.CreateExpense(r.Context(), e)
	if err != nil {
		writeRecordError(w, r, "create expense", err)
		return
	}
	writeCreated(w, created)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "get expense", err)
		return
	}
	e, err := s.records.GetExpense(r.Context(), userFrom(r), id)
	if err != nil {
		writeRecordError(w, r, "get expense", err)
		return
	}
	writeOK(w, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "update expense", err)
		return
	}
	var e core.Expense
	if err := decodeJSON(w, r, &e); err != nil {
		writeRecordError(w, r, "update expense", err)
		return
	}
	e.ID = id
	e.UserID = userFrom(r)

	updated, err := s.records.UpdateExpense(r.Context(), e)
	if err != nil {
		writeRecordError(w, r, "update expense", err)
		return
	}
	writeOK(w, updated)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "delete expense", err)
		return
	}
	if err := s.records.DeleteExpense(r.Context(), userFrom(r), id); err != nil {
		writeRecordError(w, r, "delete expense", err)
		return
	}
	writeNoContent(w)
}
