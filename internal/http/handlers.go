package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"contas/internal/core"
	"contas/internal/services"
)

const dateLayout = "2006-01-02"

type memberResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Linked      bool   `json:"linked"`
	Scope       string `json:"scope"`
	Deleted     bool   `json:"deleted"`
}

type lineItemResponse struct {
	ID          string         `json:"id"`
	Direction   string         `json:"direction"`
	Description string         `json:"description"`
	AmountCents int64          `json:"amount_cents"`
	Currency    string         `json:"currency"`
	Date        string         `json:"date"`
	TripID      string         `json:"trip_id,omitempty"`
	Installment string         `json:"installment,omitempty"`
	Paid        bool           `json:"paid"`
	Status      statusResponse `json:"status"`
}

type statusResponse struct {
	IsSettled     bool   `json:"is_settled"`
	CanEdit       bool   `json:"can_edit"`
	CanDelete     bool   `json:"can_delete"`
	CanAnticipate bool   `json:"can_anticipate"`
	BlockReason   string `json:"block_reason,omitempty"`
}

type currencyTotalResponse struct {
	Currency    string `json:"currency"`
	CreditCents int64  `json:"credit_cents"`
	DebitCents  int64  `json:"debit_cents"`
	NetCents    int64  `json:"net_cents"`
}

type invoiceResponse struct {
	Items  []lineItemResponse      `json:"items"`
	Totals []currencyTotalResponse `json:"totals"`
}

type summaryEntryResponse struct {
	MemberID    string                  `json:"member_id"`
	DisplayName string                  `json:"display_name"`
	Linked      bool                    `json:"linked"`
	Totals      []currencyTotalResponse `json:"totals"`
}

type settleRequest struct {
	MemberID string   `json:"member_id"`
	ItemIDs  []string `json:"item_ids,omitempty"`
	Amount   string   `json:"amount,omitempty"`
	Tab      string   `json:"tab,omitempty"`
	Year     int      `json:"year,omitempty"`
	Month    int      `json:"month,omitempty"`
}

type settleResponse struct {
	SettlementID string `json:"settlement_id"`
	Kind         string `json:"kind"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	ItemCount    int    `json:"item_count"`
}

type undoRequest struct {
	ItemID string `json:"item_id"`
}

type splitRequest struct {
	MemberID    string  `json:"member_id"`
	AmountCents int64   `json:"amount_cents"`
	Percentage  float64 `json:"percentage,omitempty"`
}

type createTransactionRequest struct {
	AccountID        string         `json:"account_id"`
	Type             string         `json:"type"`
	AmountCents      int64          `json:"amount_cents"`
	Currency         string         `json:"currency"`
	Description      string         `json:"description"`
	Date             string         `json:"date"`
	CompetenceDate   string         `json:"competence_date,omitempty"`
	TripID           string         `json:"trip_id,omitempty"`
	IsShared         bool           `json:"is_shared"`
	PayerID          string         `json:"payer_id,omitempty"`
	InstallmentTotal int            `json:"installment_total,omitempty"`
	Splits           []splitRequest `json:"splits,omitempty"`
}

type anticipateRequest struct {
	SeriesID string `json:"series_id"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
}

type notificationResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	members, err := s.invoices.Members(r.Context(), claims.FamilyID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]memberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, memberResponse{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Linked:      m.LinkedUserID != "",
			Scope:       string(m.Scope),
			Deleted:     m.Deleted,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	memberID := r.URL.Query().Get("member")
	if memberID == "" {
		writeBadRequest(w, "member is required")
		return
	}
	opt, err := filterOptionsFromQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	items, totals, err := s.invoices.MemberInvoice(r.Context(), claims.UserID, claims.FamilyID, memberID, opt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceResponse{
		Items:  lineItemsToResponse(items),
		Totals: totalsToResponse(totals),
	})
}

func (s *Server) handleInvoiceSummary(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	opt, err := filterOptionsFromQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	summary, err := s.invoices.Summary(r.Context(), claims.UserID, claims.FamilyID, opt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]summaryEntryResponse, 0, len(summary))
	for _, entry := range summary {
		resp = append(resp, summaryEntryResponse{
			MemberID:    entry.MemberID,
			DisplayName: entry.DisplayName,
			Linked:      entry.Linked,
			Totals:      totalsToResponse(entry.Totals),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.MemberID == "" {
		writeBadRequest(w, "member_id is required")
		return
	}
	tab, err := parseTab(req.Tab)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	year, month := defaultPeriod(req.Year, req.Month)

	result, err := s.settlements.Settle(r.Context(), services.SettleRequest{
		UserID:   claims.UserID,
		FamilyID: claims.FamilyID,
		MemberID: req.MemberID,
		ItemIDs:  req.ItemIDs,
		Amount:   req.Amount,
		Tab:      tab,
		Year:     year,
		Month:    month,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, settleResponse{
		SettlementID: result.SettlementID,
		Kind:         string(result.Kind),
		AmountCents:  result.AmountCents,
		Currency:     result.Currency,
		ItemCount:    result.ItemCount,
	})
}

func (s *Server) handleUndoSettle(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req undoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ItemID == "" {
		writeBadRequest(w, "item_id is required")
		return
	}

	err := s.settlements.Undo(r.Context(), services.UndoRequest{
		UserID:   claims.UserID,
		FamilyID: claims.FamilyID,
		ItemID:   req.ItemID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "undone"})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeBadRequest(w, "date must be YYYY-MM-DD")
		return
	}
	var competence time.Time
	if req.CompetenceDate != "" {
		competence, err = time.Parse(dateLayout, req.CompetenceDate)
		if err != nil {
			writeBadRequest(w, "competence_date must be YYYY-MM-DD")
			return
		}
	}

	tx := core.Transaction{
		UserID:           claims.UserID,
		AccountID:        req.AccountID,
		Type:             core.TransactionType(req.Type),
		Amount:           core.Money{Cents: req.AmountCents, Currency: req.Currency},
		Description:      req.Description,
		Date:             date,
		CompetenceDate:   competence,
		TripID:           req.TripID,
		IsShared:         req.IsShared,
		PayerID:          req.PayerID,
		InstallmentTotal: req.InstallmentTotal,
	}
	splits := make([]core.Split, 0, len(req.Splits))
	for _, sp := range req.Splits {
		splits = append(splits, core.Split{
			MemberID:   sp.MemberID,
			Amount:     core.Money{Cents: sp.AmountCents, Currency: req.Currency},
			Percentage: sp.Percentage,
		})
	}

	id, err := s.transactions.Create(r.Context(), claims.FamilyID, tx, splits)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleAnticipate(w http.ResponseWriter, r *http.Request) {
	var req anticipateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SeriesID == "" {
		writeBadRequest(w, "series_id is required")
		return
	}
	year, month := defaultPeriod(req.Year, req.Month)

	moved, err := s.transactions.Anticipate(r.Context(), req.SeriesID, year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"moved": moved})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	notifications, err := s.store.ListNotifications(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:        n.ID,
			Kind:      n.Kind,
			Title:     n.Title,
			Body:      n.Body,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// filterOptionsFromQuery reads tab/year/month, defaulting to the regular tab
// and the current calendar month.
func filterOptionsFromQuery(r *http.Request) (core.FilterOptions, error) {
	q := r.URL.Query()

	tab, err := parseTab(q.Get("tab"))
	if err != nil {
		return core.FilterOptions{}, err
	}

	var year, month int
	if v := q.Get("year"); v != "" {
		year, err = strconv.Atoi(v)
		if err != nil {
			return core.FilterOptions{}, errInvalidPeriod
		}
	}
	if v := q.Get("month"); v != "" {
		month, err = strconv.Atoi(v)
		if err != nil || month < 1 || month > 12 {
			return core.FilterOptions{}, errInvalidPeriod
		}
	}
	year, m := defaultPeriod(year, month)

	return core.FilterOptions{Tab: tab, Year: year, Month: m}, nil
}

func parseTab(raw string) (core.Tab, error) {
	switch core.Tab(raw) {
	case "":
		return core.TabRegular, nil
	case core.TabRegular, core.TabHistory, core.TabTravel:
		return core.Tab(raw), nil
	default:
		return "", errInvalidTab
	}
}

// defaultPeriod fills missing year/month with the current calendar month.
func defaultPeriod(year, month int) (int, time.Month) {
	now := time.Now()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		return year, now.Month()
	}
	return year, time.Month(month)
}

func lineItemsToResponse(items []core.LineItem) []lineItemResponse {
	resp := make([]lineItemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, lineItemResponse{
			ID:          it.ID,
			Direction:   string(it.Direction),
			Description: it.Description,
			AmountCents: it.Amount.Cents,
			Currency:    it.Amount.Currency,
			Date:        it.Date.Format(dateLayout),
			TripID:      it.TripID,
			Installment: it.Installment,
			Paid:        it.Paid,
			Status: statusResponse{
				IsSettled:     it.Status.IsSettled,
				CanEdit:       it.Status.CanEdit,
				CanDelete:     it.Status.CanDelete,
				CanAnticipate: it.Status.CanAnticipate,
				BlockReason:   it.Status.BlockReason,
			},
		})
	}
	return resp
}

func totalsToResponse(totals []core.CurrencyTotal) []currencyTotalResponse {
	resp := make([]currencyTotalResponse, 0, len(totals))
	for _, t := range totals {
		resp = append(resp, currencyTotalResponse{
			Currency:    t.Currency,
			CreditCents: t.CreditCents,
			DebitCents:  t.DebitCents,
			NetCents:    t.NetCents,
		})
	}
	return resp
}
