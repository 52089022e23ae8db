package http

import (
	"net/http"

	"fintrack/internal/core"
)

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePeriod(r.URL.Query())
	if err != nil {
		writeRecordError(w, r, "list incomes", err)
		return
	}
	items, err := s.records.ListIncomes(r.Context(), userFrom(r), p)
	if err != nil {
		writeRecordError(w, r, "list incomes", err)
		return
	}
	writeOK(w, listOf(items))
}

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request) {
	var in core.Income
	if err := decodeJSON(w, r, &in); err != nil {
		writeRecordError(w, r, "create income", err)
		return
	}
	in.ID = 0
	in.UserID = userFrom(r)

	created, err := s.records.CreateIncome(r.Context(), in)
	if err != nil {
		writeRecordError(w, r, "create income", err)
		return
	}
	writeCreated(w, created)
}

func (s *Server) handleGetIncome(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "get income", err)
		return
	}
	in, err := s.records.GetIncome(r.Context(), userFrom(r), id)
	if err != nil {
		writeRecordError(w, r, "get income", err)
		return
	}
	writeOK(w, in)
}

func (s *Server) handleUpdateIncome(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "update income", err)
		return
	}
	var in core.Income
	if err := decodeJSON(w, r, &in); err != nil {
		writeRecordError(w, r, "update income", err)
		return
	}
	in.ID = id
	in.UserID = userFrom(r)

	updated, err := s.records.UpdateIncome(r.Context(), in)
	if err != nil {
		writeRecordError(w, r, "update income", err)
		return
	}
	writeOK(w, updated)
}

func (s *Server) handleDeleteIncome(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeRecordError(w, r, "delete income", err)
		return
	}
	if err := s.records.DeleteIncome(r.Context(), userFrom(r), id); err != nil {
		writeRecordError(w, r, "delete income", err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleMonthOverview(w http.ResponseWriter, r *http.Request) {
	params, err := ParseMonthParams(r.URL.Query(), s.now())
	if err != nil {
		writeRecordError(w, r, "month overview", err)
		return
	}
	ov, err := s.records.MonthOverview(r.Context(), userFrom(r), params.Year, params.Month)
	if err != nil {
		writeRecordError(w, r, "month overview", err)
		return
	}
	writeOK(w, overviewBody{MonthOverview: ov, Balance: core.Money{Cents: ov.Balance()}})
}

// overviewBody adds the derived balance to the stored totals.
type overviewBody struct {
	core.MonthOverview
	Balance core.Money `json:"balance"`
}
