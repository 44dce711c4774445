package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/middleware"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/services"
)

type BillingHandler struct {
	responder
	billing *services.BillingService
}

func NewBillingHandler(billing *services.BillingService, hideErrorDetail bool) *BillingHandler {
	return &BillingHandler{
		responder: responder{hideDetail: hideErrorDetail},
		billing:   billing,
	}
}

// Plans godoc
// @Summary     List subscription plans
// @Tags        billing
// @Produce     json
// @Success     200 {array} credits.Plan
// @Router      /api/v1/billing/plans [get]
func (h *BillingHandler) Plans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": h.billing.Catalog().Plans()})
}

// Packages godoc
// @Summary     List one-time credit packages
// @Tags        billing
// @Produce     json
// @Success     200 {array} credits.Package
// @Router      /api/v1/billing/packages [get]
func (h *BillingHandler) Packages(c *gin.Context) {
	packages := h.billing.Catalog().Packages()
	if packages == nil {
		packages = []credits.Package{}
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

// Checkout godoc
// @Summary     Start a checkout session
// @Description Returns a hosted checkout URL for a subscription tier or a credit package
// @Tags        billing
// @Accept      json
// @Produce     json
// @Param       request body models.CheckoutRequest true "Tier or package"
// @Success     200 {object} models.CheckoutResponse
// @Failure     400 {object} models.ErrorResponse
// @Router      /api/v1/billing/checkout [post]
func (h *BillingHandler) Checkout(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	email := c.GetString(middleware.EmailKey)
	url, err := h.billing.Checkout(c.Request.Context(), userID, email, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, models.CheckoutResponse{URL: url})
}

// Portal godoc
// @Summary     Open the billing portal
// @Tags        billing
// @Produce     json
// @Success     200 {object} models.CheckoutResponse
// @Failure     400 {object} models.ErrorResponse
// @Router      /api/v1/billing/portal [post]
func (h *BillingHandler) Portal(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	url, err := h.billing.Portal(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, models.CheckoutResponse{URL: url})
}
