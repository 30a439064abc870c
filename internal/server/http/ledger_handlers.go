package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
)

type accountView struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	Type      model.AccountType `json:"type"`
	Balance   int64             `json:"balance"`
	CreatedAt time.Time         `json:"createdAt"`
}

func toAccountView(a *model.Account) accountView {
	return accountView{ID: a.ID, Title: a.Title, Type: a.Type, Balance: a.Balance, CreatedAt: a.CreatedAt}
}

type transactionView struct {
	ID          int64        `json:"id"`
	AccountID   int64        `json:"accountId"`
	Type        model.TxType `json:"type"`
	Amount      int64        `json:"amount"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"createdAt"`
}

func toTransactionView(t *model.Transaction) transactionView {
	return transactionView{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Type:        t.Type,
		Amount:      t.Amount,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}

type ledgerResultView struct {
	Transaction transactionView `json:"transaction"`
	Balance     int64           `json:"balance"`
}

func toLedgerResultView(r model.LedgerResult) ledgerResultView {
	return ledgerResultView{Transaction: toTransactionView(&r.Transaction), Balance: r.Balance}
}

// owner returns the caller's public id from the access token claims.
func (s *Server) owner(c *gin.Context) (uuid.UUID, bool) {
	claims, ok := ClaimsFromCtx(c.Request.Context())
	if !ok {
		writeError(c, s.log, errs.ErrTokenNotFound)
		return uuid.Nil, false
	}
	pid, err := claims.PublicID()
	if err != nil {
		writeError(c, s.log, errs.ErrInvalidToken)
		return uuid.Nil, false
	}
	return pid, true
}

func (s *Server) idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, s.log, errs.New(errs.ErrBadRequest, "invalid id"))
		return 0, false
	}
	return id, true
}

type createAccountRequest struct {
	Title string            `json:"title" binding:"required"`
	Type  model.AccountType `json:"type" binding:"required"`
}

func (s *Server) createAccount(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var req createAccountRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	a, err := s.ledger.CreateAccount(c.Request.Context(), owner, req.Title, req.Type)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, toAccountView(a))
}

func (s *Server) getAccount(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	a, err := s.ledger.GetAccount(c.Request.Context(), owner, id)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, toAccountView(a))
}

type addTransactionRequest struct {
	AccountID       int64        `json:"accountId" binding:"required"`
	Type            model.TxType `json:"type" binding:"required"`
	Amount          int64        `json:"amount"`
	Description     string       `json:"description"`
	CreatedAt       *time.Time   `json:"createdAt"`
	ExpectedBalance *int64       `json:"expectedBalance"`
}

func (s *Server) addTransaction(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var req addTransactionRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	in := model.NewTransaction{
		AccountID:       req.AccountID,
		Type:            req.Type,
		Amount:          req.Amount,
		Description:     req.Description,
		ExpectedBalance: req.ExpectedBalance,
	}
	if req.CreatedAt != nil {
		in.CreatedAt = req.CreatedAt.UTC()
	}
	res, err := s.ledger.AddTransaction(c.Request.Context(), owner, in)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, toLedgerResultView(res))
}

func (s *Server) getTransaction(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	t, err := s.ledger.GetTransaction(c.Request.Context(), owner, id)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionView(t))
}

type updateTransactionRequest struct {
	Type            *model.TxType `json:"type"`
	Amount          *int64        `json:"amount"`
	Description     *string       `json:"description"`
	ExpectedBalance *int64        `json:"expectedBalance"`
}

func (s *Server) updateTransaction(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var req updateTransactionRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	res, err := s.ledger.UpdateTransaction(c.Request.Context(), owner, id, model.TransactionPatch(req))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, toLedgerResultView(res))
}

// deleteTransaction takes the optional expected balance from the query string.
func (s *Server) deleteTransaction(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var expected *int64
	if v, set := c.GetQuery("expectedBalance"); set {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(c, s.log, errs.New(errs.ErrBadRequest, "invalid expectedBalance"))
			return
		}
		expected = &n
	}
	res, err := s.ledger.DeleteTransaction(c.Request.Context(), owner, id, expected)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, toLedgerResultView(res))
}
