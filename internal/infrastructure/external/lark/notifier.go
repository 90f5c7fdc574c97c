package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

const (
	receiveIDTypeOpenID = "open_id"
	msgTypePost         = "post"
)

// Notifier delivers expense notifications as Lark rich-text messages
type Notifier struct {
	sdk    *SDKClient
	logger *zap.Logger
}

// NewNotifier creates a new Lark notifier
func NewNotifier(sdk *SDKClient, logger *zap.Logger) *Notifier {
	return &Notifier{sdk: sdk, logger: logger}
}

// postElement is one inline element of a post message line
type postElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// buildPostContent renders title and message as a Lark "post" payload, one
// paragraph per message line
func buildPostContent(title, message string) (string, error) {
	lines := strings.Split(strings.TrimSpace(message), "\n")
	content := make([][]postElement, 0, len(lines))
	for _, line := range lines {
		content = append(content, []postElement{{Tag: "text", Text: line}})
	}

	data, err := json.Marshal(map[string]postBody{
		"en_us": {Title: title, Content: content},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal post content: %w", err)
	}
	return string(data), nil
}

// Notify sends the message to the recipient's Lark account. Users without a
// Lark open id are skipped.
func (n *Notifier) Notify(ctx context.Context, recipient *entity.User, title, message string) error {
	if recipient == nil || recipient.LarkOpenID == "" {
		if recipient != nil {
			n.logger.Debug("Skipping Lark delivery, no open id", zap.Int64("user_id", recipient.ID))
		}
		return nil
	}

	content, err := buildPostContent(title, message)
	if err != nil {
		return err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDTypeOpenID).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(recipient.LarkOpenID).
			MsgType(msgTypePost).
			Content(content).
			Build()).
		Build()

	resp, err := n.sdk.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send message",
			zap.Int64("user_id", recipient.ID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		n.logger.Error("API returned failure",
			zap.Int64("user_id", recipient.ID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	n.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.Int64("user_id", recipient.ID))
	return nil
}

var _ port.Notifier = (*Notifier)(nil)
