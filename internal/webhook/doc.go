// Package webhook ingests HMAC-signed platform event notifications.
//
// Every POST is acknowledged with 200 so the platform never retries a
// delivery; the outcome is carried in the body and in the logs instead.
//
// # Request Flow
//
//  1. Raw body read once, bounded by max_body_size
//  2. Signature header extracted (missing: MISSING_SIGNATURE)
//  3. HMAC-SHA256 verified over the raw bytes (mismatch: INVALID_SIGNATURE,
//     logged as a security event)
//  4. JSON parsed (MALFORMED_PAYLOAD)
//  5. Topic taken from the topic header, tenant from the payload
//     (MISSING_TOPIC, MISSING_TENANT)
//  6. Dispatched through the Registry; unregistered topics are acknowledged
//     with processed=false
//  7. Handler errors and panics are logged with topic, tenant and event id
//
// HEAD on the same path always answers 200.
//
// # Response
//
//	{"success": true, "eventType": "orders/create", "processed": true}
package webhook
