package http

import (
	"net/http"

	"fintrack/internal/core"
)

func (s *Server) handleListCardBills(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePeriod(r.URL.Query())
	if err != nil {
		writeRecordError(w, r, "list card bills", err)
		return
	}
	items, err := s.records.ListCardBills(r.Context(), userFrom(r), p)
	if err != nil {
		writeRecordError(w, r, "list card bills", err)
		return
	}
	writeOK(w, listOf(items))
}

func (s *Server) handleCreateCardBill(w http.ResponseWriter, r *http.Request) {
	var b core.CardBill
	if err := decodeJSON(w, r, &b); err != nil {
		writeRecordError(w, r, "create card bill", err)
		return
	}
	b.ID = 0
	b.UserID = userFrom(r)

	created, err := s.records.CreateCardBill(r.Context(), b)
	if err != nil {
		writeRecordError(w, r, "create card bill", err)
		return
	}
	writeCreated(w, created)
}

func (s *Server) handleGetCardBill(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "get card bill", err)
		return
	}
	b, err := s.records.GetCardBill(r.Context(), userFrom(r), id)
	if err != nil {
		writeRecordError(w, r, "get card bill", err)
		return
	}
	writeOK(w, b)
}

func (s *Server) handleUpdateCardBill(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "update card bill", err)
		return
	}
	var b core.CardBill
	if err := decodeJSON(w, r, &b); err != nil {
		writeRecordError(w, r, "update card bill", err)
		return
	}
	b.ID = id
	b.UserID = userFrom(r)

	updated, err := s.records.UpdateCardBill(r.Context(), b)
	if err != nil {
		writeRecordError(w, r, "update card bill", err)
		return
	}
	writeOK(w, updated)
}

func (s *Server) handleDeleteCardBill(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "delete card bill", err)
		return
	}
	if err := s.records.DeleteCardBill(r.Context(), userFrom(r), id); err != nil {
		writeRecordError(w, r, "delete card bill", err)
		return
	}
	writeNoContent(w)
}
