package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	pkgkafka "FinPilot/pkg/kafka"
	"FinPilot/pkg/logger"
)

// KafkaTriggerHandler starts manual runs from trigger messages.
type KafkaTriggerHandler struct {
	topic   string
	exec    PipelineExecutor
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewKafkaTriggerHandler(topic string, exec PipelineExecutor, metrics domrepo.Metrics, log *logger.Logger) *KafkaTriggerHandler {
	return &KafkaTriggerHandler{topic: topic, exec: exec, metrics: metrics, log: log}
}

func (h *KafkaTriggerHandler) Topic() string { return h.topic }

// incoming message schema: {"triggered_by": "..."}
func (h *KafkaTriggerHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		TriggeredBy string `json:"triggered_by"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("trigger_unmarshal")
		return err
	}
	by := strings.TrimSpace(m.TriggeredBy)
	if by == "" {
		by = "kafka"
	}

	id, _, err := h.exec.Start(ctx, models.TriggerManual, by)
	if errors.Is(err, models.ErrAlreadyRunning) {
		h.log.Info("Trigger ignored, pipeline already running", logger.String("triggered_by", by))
		return nil
	}
	if err != nil {
		h.metrics.RecordError("trigger_start")
		return err
	}
	h.log.Info("Pipeline run triggered from kafka", logger.String("run_id", id), logger.String("triggered_by", by))
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTriggerHandler)(nil)
