package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/services"
)

type CreditsHandler struct {
	responder
	ledger   *credits.Ledger
	catalog  *credits.Catalog
	projects *services.ProjectService
}

func NewCreditsHandler(ledger *credits.Ledger, catalog *credits.Catalog, projects *services.ProjectService, hideErrorDetail bool) *CreditsHandler {
	return &CreditsHandler{
		responder: responder{hideDetail: hideErrorDetail},
		ledger:    ledger,
		catalog:   catalog,
		projects:  projects,
	}
}

// GetMe godoc
// @Summary     Current account
// @Description Returns the caller's plan, balance and feature flags
// @Tags        account
// @Produce     json
// @Success     200 {object} models.MeResponse
// @Router      /api/v1/me [get]
func (h *CreditsHandler) GetMe(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	user, err := h.ledger.Account(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	plan := h.catalog.PlanByTier(user.Tier)
	c.JSON(http.StatusOK, models.MeResponse{
		ID:                    user.ID.String(),
		Email:                 user.Email.String,
		Tier:                  plan.Tier,
		CreditsRemaining:      user.CreditsRemaining,
		CreditsUsedThisPeriod: user.CreditsUsedThisPeriod,
		HasSubscription:       user.StripeSubscriptionID.Valid,
		CanEditLyrics:         plan.LyricEditing,
		MaxQuality:            string(plan.MaxQuality),
	})
}

// GetCredits godoc
// @Summary     Credit balance and history
// @Tags        account
// @Produce     json
// @Success     200 {object} models.CreditsResponse
// @Router      /api/v1/credits [get]
func (h *CreditsHandler) GetCredits(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	balance, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	txs, err := h.ledger.History(ctx, userID, 50)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := models.CreditsResponse{
		CreditsRemaining: balance,
		Transactions:     make([]models.TransactionResponse, len(txs)),
	}
	for i, tx := range txs {
		resp.Transactions[i] = models.TransactionResponse{
			ID:           tx.ID.String(),
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			Kind:         tx.Kind,
			Description:  tx.Description,
			CreatedAt:    tx.CreatedAt,
		}
		if tx.ProjectID.Valid {
			resp.Transactions[i].ProjectID = tx.ProjectID.UUID.String()
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Quote godoc
// @Summary     Price a job
// @Description Computes the credit cost of a job without charging anything
// @Tags        account
// @Accept      json
// @Produce     json
// @Param       request body models.QuoteRequest true "Job options"
// @Success     200 {object} models.QuoteResponse
// @Failure     400 {object} models.ErrorResponse
// @Router      /api/v1/credits/quote [post]
func (h *CreditsHandler) Quote(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	var req models.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	opts := credits.CostOptions{
		ProcessingType: models.ProcessingType(req.ProcessingType),
		VideoQuality:   models.VideoQuality(req.VideoQuality),
		IncludeLyrics:  boolOr(req.IncludeLyrics, true),
		ReviewLyrics:   req.ReviewLyrics,
	}
	if opts.ProcessingType == "" {
		opts.ProcessingType = models.ProcessingRemoveVocals
	}
	if opts.VideoQuality == "" {
		opts.VideoQuality = models.Quality720p
	}

	cost, balance, err := h.projects.Quote(c.Request.Context(), userID, opts)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, models.QuoteResponse{
		Credits:          cost,
		CreditsAvailable: balance,
		Affordable:       balance >= cost,
	})
}
