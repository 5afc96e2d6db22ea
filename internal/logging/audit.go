// Audit logging writes structured JSON-line events covering the full
// lifecycle of a query: classification, retrieval, DMS calls, generation.
// Dealerships keep these trails for compliance review.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Query lifecycle events
	AuditQueryReceived  AuditEventType = "query_received"
	AuditQueryAnswered  AuditEventType = "query_answered"
	AuditQueryFailed    AuditEventType = "query_failed"
	AuditIntentDetected AuditEventType = "intent_detected"

	// Retrieval events
	AuditRetrieval AuditEventType = "retrieval"
	AuditRerank    AuditEventType = "rerank"

	// LLM API events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// DMS events
	AuditDMSCall  AuditEventType = "dms_call"
	AuditDMSError AuditEventType = "dms_error"

	// Ingestion events
	AuditIngestStart    AuditEventType = "ingest_start"
	AuditIngestComplete AuditEventType = "ingest_complete"

	// Circuit breaker events
	AuditBreakerOpen   AuditEventType = "breaker_open"
	AuditBreakerClose  AuditEventType = "breaker_close"
	AuditBreakerReject AuditEventType = "breaker_reject"

	// Session events
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
)

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp      int64                  `json:"ts"` // Unix milliseconds
	EventType      AuditEventType         `json:"event"`
	ConversationID string                 `json:"conversation,omitempty"`
	RequestID      string                 `json:"req,omitempty"`
	Target         string                 `json:"target,omitempty"` // provider, namespace, model
	Success        bool                   `json:"success"`
	DurationMs     int64                  `json:"dur_ms,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Message        string                 `json:"msg,omitempty"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging scoped to a conversation.
type AuditLogger struct {
	conversationID string
	requestID      string
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithConversation creates an audit logger scoped to a conversation
func AuditWithConversation(conversationID string) *AuditLogger {
	return &AuditLogger{conversationID: conversationID}
}

// AuditWithRequest creates a fully-scoped audit logger
func AuditWithRequest(conversationID, requestID string) *AuditLogger {
	return &AuditLogger{conversationID: conversationID, requestID: requestID}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.ConversationID == "" && a.conversationID != "" {
		event.ConversationID = a.conversationID
	}
	if event.RequestID == "" && a.requestID != "" {
		event.RequestID = a.requestID
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// QueryReceived logs an incoming query
func (a *AuditLogger) QueryReceived(queryLen int, namespace string) {
	a.Log(AuditEvent{
		EventType: AuditQueryReceived,
		Target:    namespace,
		Success:   true,
		Fields:    map[string]interface{}{"query_len": queryLen},
		Message:   fmt.Sprintf("Query received (%d chars, namespace=%s)", queryLen, namespace),
	})
}

// QueryAnswered logs a completed query
func (a *AuditLogger) QueryAnswered(intent string, sourceCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditQueryAnswered,
		Target:     intent,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"sources": sourceCount},
		Message:    fmt.Sprintf("Query answered: intent=%s sources=%d (%dms)", intent, sourceCount, durationMs),
	})
}

// QueryFailed logs a failed query
func (a *AuditLogger) QueryFailed(stage string, err error, durationMs int64) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType:  AuditQueryFailed,
		Target:     stage,
		Success:    false,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Query failed at %s: %s", stage, errMsg),
	})
}

// IntentDetected logs a classification result
func (a *AuditLogger) IntentDetected(intent string, confidence float64, method string) {
	a.Log(AuditEvent{
		EventType: AuditIntentDetected,
		Target:    intent,
		Success:   true,
		Fields: map[string]interface{}{
			"confidence": confidence,
			"method":     method,
		},
		Message: fmt.Sprintf("Intent: %s (%.2f, %s)", intent, confidence, method),
	})
}

// Retrieval logs a hybrid retrieval pass
func (a *AuditLogger) Retrieval(namespace string, vectorHits, keywordHits, fused int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditRetrieval,
		Target:     namespace,
		Success:    true,
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"vector_hits":  vectorHits,
			"keyword_hits": keywordHits,
			"fused":        fused,
		},
		Message: fmt.Sprintf("Retrieval: %d vector + %d keyword -> %d fused (%dms)", vectorHits, keywordHits, fused, durationMs),
	})
}

// LLMCall logs an LLM API call
func (a *AuditLogger) LLMCall(model string, tokens int, durationMs int64, success bool, errMsg string) {
	eventType := AuditLLMResponse
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"tokens": tokens},
		Message:    fmt.Sprintf("LLM call: %s -> %d tokens (%dms, success=%v)", model, tokens, durationMs, success),
	})
}

// DMSCall logs a DMS adapter operation
func (a *AuditLogger) DMSCall(provider, operation string, durationMs int64, success bool, errMsg string) {
	eventType := AuditDMSCall
	if !success {
		eventType = AuditDMSError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     provider,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"operation": operation},
		Message:    fmt.Sprintf("DMS %s.%s (%dms, success=%v)", provider, operation, durationMs, success),
	})
}

// IngestComplete logs an ingestion run
func (a *AuditLogger) IngestComplete(namespace string, docs, chunks, upserted int, errCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditIngestComplete,
		Target:     namespace,
		Success:    errCount == 0,
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"documents": docs,
			"chunks":    chunks,
			"upserted":  upserted,
			"errors":    errCount,
		},
		Message: fmt.Sprintf("Ingest: %d docs, %d chunks, %d upserted, %d errors (%dms)", docs, chunks, upserted, errCount, durationMs),
	})
}

// BreakerTransition logs a circuit breaker state change
func (a *AuditLogger) BreakerTransition(name, from, to string) {
	eventType := AuditBreakerClose
	if to == "open" {
		eventType = AuditBreakerOpen
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Target:    name,
		Success:   to == "closed",
		Fields:    map[string]interface{}{"from": from, "to": to},
		Message:   fmt.Sprintf("Breaker %s: %s -> %s", name, from, to),
	})
}

// SessionStart logs session start
func (a *AuditLogger) SessionStart(conversationID string) {
	a.Log(AuditEvent{
		EventType:      AuditSessionStart,
		ConversationID: conversationID,
		Success:        true,
		Message:        fmt.Sprintf("Session started: %s", conversationID),
	})
}

// SessionEnd logs session end
func (a *AuditLogger) SessionEnd(conversationID string, turnCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:      AuditSessionEnd,
		ConversationID: conversationID,
		Success:        true,
		DurationMs:     durationMs,
		Fields:         map[string]interface{}{"turn_count": turnCount},
		Message:        fmt.Sprintf("Session ended: %s (%d turns, %dms)", conversationID, turnCount, durationMs),
	})
}
