// Package notify pushes manual-review alerts to reviewers. Notification
// failures are logged and never fail a pipeline run.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/models"
)

// Notifier announces decisions that need a human pass.
type Notifier interface {
	NotifyManualReview(ctx context.Context, decisions []models.Decision)
}

// NopNotifier is used when notifications are disabled.
type NopNotifier struct{}

func (NopNotifier) NotifyManualReview(context.Context, []models.Decision) {}

// LarkNotifier sends a text message per run summarizing the decisions
// flagged for manual review.
type LarkNotifier struct {
	client     *lark.Client
	receiverID string
	logger     *zap.Logger
}

// Config holds Lark notifier configuration.
type Config struct {
	AppID      string
	AppSecret  string
	ReceiverID string
}

// NewLarkNotifier creates a Lark notifier.
func NewLarkNotifier(cfg Config, logger *zap.Logger) *LarkNotifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &LarkNotifier{
		client:     client,
		receiverID: cfg.ReceiverID,
		logger:     logger,
	}
}

// NotifyManualReview sends one message listing the flagged decisions.
// No message is sent when nothing is flagged.
func (n *LarkNotifier) NotifyManualReview(ctx context.Context, decisions []models.Decision) {
	flagged := make([]models.Decision, 0, len(decisions))
	for _, d := range decisions {
		if d.ManualReview {
			flagged = append(flagged, d)
		}
	}
	if len(flagged) == 0 {
		return
	}

	content, err := json.Marshal(map[string]string{"text": buildReviewText(flagged)})
	if err != nil {
		n.logger.Error("Failed to build notification content", zap.Error(err))
		return
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.receiverID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send manual-review notification",
			zap.String("receive_id", n.receiverID),
			zap.Error(err))
		return
	}
	if !resp.Success() {
		n.logger.Error("Notification API returned failure",
			zap.String("receive_id", n.receiverID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return
	}

	n.logger.Info("Manual-review notification sent",
		zap.Int("flagged", len(flagged)),
		zap.String("receive_id", n.receiverID))
}

func buildReviewText(flagged []models.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d decision(s) need manual review:\n", len(flagged))
	for _, d := range flagged {
		fmt.Fprintf(&b, "- %s %s %s: %s %.2f %s (confidence %.2f)\n",
			d.EmployeeKey(), d.Category, d.Month,
			d.Decision, d.ApprovedAmount, d.Currency, d.ConfidenceScore)
	}
	return b.String()
}
