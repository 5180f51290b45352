package errors

// ErrorCode represents a specific error code in the system.
type ErrorCode string

const (
	// GeneralInternalServerError represents a generic internal server error.
	GeneralInternalServerError ErrorCode = "general_internal_server_error"
	// GeneralBadRequestError represents a generic bad request error.
	GeneralBadRequestError ErrorCode = "general_bad_request_error"
	// GeneralNotFoundError represents a generic not found error.
	GeneralNotFoundError ErrorCode = "general_not_found_error"
	// GeneralUnauthorizedError represents a generic unauthorized error.
	GeneralUnauthorizedError ErrorCode = "general_unauthorized_error"
	// GeneralForbiddenError represents a generic forbidden error.
	GeneralForbiddenError ErrorCode = "general_forbidden_error"
	// GeneralRepositoryError represents a generic repository error.
	GeneralRepositoryError ErrorCode = "general_repository_error"

	// OrderValidationError represents a rejected order submission.
	OrderValidationError ErrorCode = "order_validation_error"
	// OrderNotFoundError represents a probe of an unknown order.
	OrderNotFoundError ErrorCode = "order_not_found_error"
	// OrderForbiddenError represents a probe of a foreign-owned order.
	OrderForbiddenError ErrorCode = "order_forbidden_error"
	// SymbolNotFoundError represents a query for a symbol with no book and no trades.
	SymbolNotFoundError ErrorCode = "symbol_not_found_error"
	// BrokerNotFoundError represents a lookup of an unknown broker.
	BrokerNotFoundError ErrorCode = "broker_not_found_error"

	// FlushBatchError represents a failed persistence flush transaction.
	FlushBatchError ErrorCode = "flush_batch_error"
	// RecoveryError represents a failed startup recovery step.
	RecoveryError ErrorCode = "recovery_error"
	// WebhookDeliveryError represents a failed webhook dispatch.
	WebhookDeliveryError ErrorCode = "webhook_delivery_error"
	// FeedPublishError represents a failed trade-feed publish.
	FeedPublishError ErrorCode = "feed_publish_error"
)

// String returns the error code as a string.
func (c ErrorCode) String() string {
	return string(c)
}
