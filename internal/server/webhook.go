package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"github.com/smallbiznis/corates/pkg/db/pagination"
)

const stripeSignatureHeader = "Stripe-Signature"

// HandleStripeWebhook passes the raw body to the ledger. The ledger decides the
// status code; the error middleware is never involved.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	result := s.webhookSvc.Ingest(c.Request.Context(), webhookdomain.IngestRequest{
		Body:      c.Request.Body,
		Signature: c.GetHeader(stripeSignatureHeader),
		Route:     c.FullPath(),
		RequestID: c.GetString("request_id"),
	})

	if result.EventType != "" {
		c.Set("stripe_event_type", result.EventType)
	}
	if result.Status != "" {
		c.Set("ledger_status", string(result.Status))
	}
	status := result.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result.Body)
}

type listWebhookLedgerRequest struct {
	Status string `form:"status"`
	Type   string `form:"type"`
	pagination.Pagination
}

func (s *Server) ListWebhookLedger(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listWebhookLedgerRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.webhookSvc.List(c.Request.Context(), webhookdomain.ListFilter{
		OrgID:      orgID,
		Status:     strings.TrimSpace(query.Status),
		Type:       strings.TrimSpace(query.Type),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
