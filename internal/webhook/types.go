package webhook

import (
	"encoding/json"
)

// Topic is a platform event name. The set is closed: only the constants below
// can be registered.
type Topic string

const (
	TopicAppUninstalled       Topic = "app/uninstalled"
	TopicShopUpdate           Topic = "shop/update"
	TopicSubscriptionUpdate   Topic = "app_subscriptions/update"
	TopicOrdersCreate         Topic = "orders/create"
	TopicCustomersDataRequest Topic = "customers/data_request"
	TopicCustomersRedact      Topic = "customers/redact"
	TopicShopRedact           Topic = "shop/redact"
)

var knownTopics = map[Topic]struct{}{
	TopicAppUninstalled:       {},
	TopicShopUpdate:           {},
	TopicSubscriptionUpdate:   {},
	TopicOrdersCreate:         {},
	TopicCustomersDataRequest: {},
	TopicCustomersRedact:      {},
	TopicShopRedact:           {},
}

// Known reports whether t is one of the enumerated topics.
func (t Topic) Known() bool {
	_, ok := knownTopics[t]
	return ok
}

// Event is one verified delivery.
type Event struct {
	ID           string
	Topic        Topic
	TenantDomain string
	Payload      json.RawMessage
}

// Response is the body of every POST answer.
type Response struct {
	Success   bool   `json:"success"`
	EventType string `json:"eventType"`
	Processed bool   `json:"processed"`
	Error     string `json:"error,omitempty"`
}

// Failure codes carried in Response.Error.
const (
	CodeMissingSignature = "MISSING_SIGNATURE"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeReadFailed       = "READ_FAILED"
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeMissingTopic     = "MISSING_TOPIC"
	CodeMissingTenant    = "MISSING_TENANT"
	CodeHandlerFailed    = "HANDLER_FAILED"
)

// Config controls verification and header names.
type Config struct {
	Secret          string
	SignatureHeader string
	TopicHeader     string
	TenantHeader    string
	EventIDHeader   string
	MaxBodySize     int64
	DomainSuffix    string
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Signature"
	DefaultTopicHeader     = "X-Topic"
	DefaultTenantHeader    = "X-Shop-Domain"
	DefaultEventIDHeader   = "X-Event-Id"
)
