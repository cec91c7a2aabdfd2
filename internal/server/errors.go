package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	accessdomain "github.com/smallbiznis/corates/internal/access/domain"
	"github.com/smallbiznis/corates/internal/authorization"
	checkoutdomain "github.com/smallbiznis/corates/internal/checkout/domain"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	"github.com/smallbiznis/corates/internal/plan"
	projectdomain "github.com/smallbiznis/corates/internal/project/domain"
	quotadomain "github.com/smallbiznis/corates/internal/quota/domain"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

const (
	CodeQuotaExceeded  = "QUOTA_EXCEEDED"
	CodeAccessReadOnly = "ACCESS_READ_ONLY"
)

// quotaErrorResponse lets the UI render "used of limit" without a second request.
type quotaErrorResponse struct {
	Error    errorPayload  `json:"error"`
	Code     string        `json:"code"`
	QuotaKey plan.QuotaKey `json:"quotaKey"`
	Used     int64         `json:"used"`
	Limit    int64         `json:"limit"`
	PlanID   string        `json:"planId"`
}

type downgradeErrorResponse struct {
	Error      errorPayload            `json:"error"`
	Code       string                  `json:"code"`
	Violations []quotadomain.Violation `json:"violations"`
	Usage      quotadomain.Usage       `json:"usage"`
	TargetPlan plan.Plan               `json:"targetPlan"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		writeError(c, lastErr.Err)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func writeError(c *gin.Context, err error) {
	c.Header("Content-Type", "application/json")

	var quotaErr *quotadomain.QuotaError
	if errors.As(err, &quotaErr) {
		c.Set("quota_key", string(quotaErr.QuotaKey))
		code, errType := CodeQuotaExceeded, "quota_exceeded"
		if quotaErr.Reason == quotadomain.ReasonAccessReadOnly {
			code, errType = CodeAccessReadOnly, "access_read_only"
		}
		c.AbortWithStatusJSON(http.StatusForbidden, quotaErrorResponse{
			Error:    errorPayload{Type: errType, Message: quotaErr.Error()},
			Code:     code,
			QuotaKey: quotaErr.QuotaKey,
			Used:     quotaErr.Used,
			Limit:    quotaErr.Limit,
			PlanID:   quotaErr.PlanID,
		})
		return
	}

	var downgradeErr *checkoutdomain.DowngradeError
	if errors.As(err, &downgradeErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, downgradeErrorResponse{
			Error:      errorPayload{Type: "validation_error", Message: downgradeErr.Error()},
			Code:       downgradeErr.Code,
			Violations: downgradeErr.Violations,
			Usage:      downgradeErr.Usage,
			TargetPlan: downgradeErr.TargetPlan,
		})
		return
	}

	var rateErr *checkoutdomain.RateLimitError
	if errors.As(err, &rateErr) {
		seconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: payload})
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var quotaErr *quotadomain.QuotaError
	var rateErr *checkoutdomain.RateLimitError

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, organizationdomain.ErrNotMember):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.As(err, &quotaErr):
		return http.StatusForbidden, errorPayload{
			Type:    "quota_exceeded",
			Message: quotaErr.Error(),
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, grantdomain.ErrTrialAlreadyUsed),
		errors.Is(err, grantdomain.ErrSubscriptionActive),
		errors.Is(err, organizationdomain.ErrAlreadyMember):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.As(err, &rateErr),
		errors.Is(err, checkoutdomain.ErrCheckoutInProgress):
		message := "too many checkout attempts"
		if errors.Is(err, checkoutdomain.ErrCheckoutInProgress) {
			message = checkoutdomain.ErrCheckoutInProgress.Error()
		}
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: message,
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, checkoutdomain.ErrSessionFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_provider_error",
			Message: "checkout session could not be created",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, checkoutdomain.ErrPriceNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger's error_type and error_code fields.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if payload.Type != "internal_error" {
		code = payload.Message
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isOrganizationValidationError(err),
		isProjectValidationError(err),
		isCheckoutValidationError(err),
		isBillingValidationError(err):
		return true
	default:
		return false
	}
}

func isOrganizationValidationError(err error) bool {
	switch {
	case errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidUser),
		errors.Is(err, organizationdomain.ErrInvalidOrganization),
		errors.Is(err, organizationdomain.ErrInvalidRole),
		errors.Is(err, authorization.ErrInvalidOrganization),
		errors.Is(err, authorization.ErrInvalidObject),
		errors.Is(err, authorization.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isProjectValidationError(err error) bool {
	switch {
	case errors.Is(err, projectdomain.ErrInvalidName),
		errors.Is(err, projectdomain.ErrInvalidOrgID),
		errors.Is(err, projectdomain.ErrInvalidUser):
		return true
	default:
		return false
	}
}

func isCheckoutValidationError(err error) bool {
	switch {
	case errors.Is(err, checkoutdomain.ErrInvalidTier),
		errors.Is(err, checkoutdomain.ErrInvalidInterval),
		errors.Is(err, checkoutdomain.ErrInvalidOrganization):
		return true
	default:
		return false
	}
}

func isBillingValidationError(err error) bool {
	switch {
	case errors.Is(err, quotadomain.ErrUnknownPlan),
		errors.Is(err, quotadomain.ErrUnknownQuotaKey),
		errors.Is(err, quotadomain.ErrInvalidOrgID),
		errors.Is(err, accessdomain.ErrInvalidOrgID),
		errors.Is(err, grantdomain.ErrInvalidOrgID),
		errors.Is(err, webhookdomain.ErrInvalidStatus),
		errors.Is(err, webhookdomain.ErrInvalidCursor):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, organizationdomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, grantdomain.ErrTrialAlreadyUsed):
		return grantdomain.ErrTrialAlreadyUsed.Error()
	case errors.Is(err, grantdomain.ErrSubscriptionActive):
		return grantdomain.ErrSubscriptionActive.Error()
	case errors.Is(err, organizationdomain.ErrAlreadyMember):
		return organizationdomain.ErrAlreadyMember.Error()
	default:
		return "conflict"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, quotadomain.ErrUnknownPlan):
		return quotadomain.ErrUnknownPlan.Error()
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case code == quotadomain.ErrUnknownPlan.Error():
		return "targetPlan"
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	default:
		return ""
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case quotadomain.ErrUnknownPlan.Error():
		return "unknown plan"
	default:
		return "invalid value"
	}
}
