package mongo

import (
	"time"

	"github.com/agentrun/runtime/history"
)

// runDocument is the Mongo-native representation of history.Record. Fields
// that can be derived cheaply from the aggregate record (node/model usage
// maps) are stored inline rather than split across collections, since a
// single run's history document is small and always read/written whole.
type runDocument struct {
	RunID            string                        `bson:"run_id"`
	Mode             string                        `bson:"mode,omitempty"`
	Status           history.Status                `bson:"status"`
	StartedAt        time.Time                     `bson:"started_at"`
	UpdatedAt        time.Time                     `bson:"updated_at"`
	FinishedAt       time.Time                     `bson:"finished_at,omitempty"`
	Text             string                        `bson:"text,omitempty"`
	StructuredOutput any                           `bson:"structured_output,omitempty"`
	ExecutionTimeMs  int64                         `bson:"execution_time_ms,omitempty"`
	NodeHistory      []string                      `bson:"node_history,omitempty"`
	ExecutionOrder   []string                      `bson:"execution_order,omitempty"`
	PerNode          map[string]history.NodeMetric `bson:"per_node,omitempty"`
	PerModelUsage    map[string]history.ModelUsage `bson:"per_model_usage,omitempty"`
	ModelID          string                        `bson:"model_id,omitempty"`
	EstimatedCostUSD float64                       `bson:"estimated_cost_usd,omitempty"`
	ErrorMessage     string                        `bson:"error_message,omitempty"`
	ErrorCode        string                        `bson:"error_code,omitempty"`
	Labels           map[string]string             `bson:"labels,omitempty"`
	Metadata         map[string]any                `bson:"metadata,omitempty"`
}

func fromRecord(rec history.Record) runDocument {
	return runDocument{
		RunID:            rec.RunID,
		Mode:             rec.Mode,
		Status:           rec.Status,
		StartedAt:        rec.StartedAt.UTC(),
		UpdatedAt:        rec.UpdatedAt.UTC(),
		FinishedAt:       rec.FinishedAt.UTC(),
		Text:             rec.Text,
		StructuredOutput: rec.StructuredOutput,
		ExecutionTimeMs:  rec.ExecutionTime.Milliseconds(),
		NodeHistory:      rec.NodeHistory,
		ExecutionOrder:   rec.ExecutionOrder,
		PerNode:          rec.PerNode,
		PerModelUsage:    rec.PerModelUsage,
		ModelID:          rec.ModelID,
		EstimatedCostUSD: rec.EstimatedCostUSD,
		ErrorMessage:     rec.ErrorMessage,
		ErrorCode:        rec.ErrorCode,
		Labels:           cloneLabels(rec.Labels),
		Metadata:         cloneMetadata(rec.Metadata),
	}
}

func (doc runDocument) toRecord() history.Record {
	return history.Record{
		RunID:            doc.RunID,
		Mode:             doc.Mode,
		Status:           doc.Status,
		StartedAt:        doc.StartedAt,
		UpdatedAt:        doc.UpdatedAt,
		FinishedAt:       doc.FinishedAt,
		Text:             doc.Text,
		StructuredOutput: doc.StructuredOutput,
		ExecutionTime:    time.Duration(doc.ExecutionTimeMs) * time.Millisecond,
		NodeHistory:      doc.NodeHistory,
		ExecutionOrder:   doc.ExecutionOrder,
		PerNode:          doc.PerNode,
		PerModelUsage:    doc.PerModelUsage,
		ModelID:          doc.ModelID,
		EstimatedCostUSD: doc.EstimatedCostUSD,
		ErrorMessage:     doc.ErrorMessage,
		ErrorCode:        doc.ErrorCode,
		Labels:           cloneLabels(doc.Labels),
		Metadata:         cloneMetadata(doc.Metadata),
	}
}

func cloneLabels(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneMetadata(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
