package notify

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type FCMConfig struct {
	CredentialsFile string
	ProjectID       string
}

type multicaster interface {
	SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMProvider sends through Firebase Cloud Messaging.
type FCMProvider struct {
	client multicaster
}

func NewFCMProvider(ctx context.Context, cfg FCMConfig) (*FCMProvider, error) {
	credentials, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read firebase credentials: %w", err)
	}
	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbConfig, option.WithCredentialsJSON(credentials))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	log.Info().Str("module", "notify.fcm").Str("project_id", cfg.ProjectID).Msg("firebase messaging ready")
	return &FCMProvider{client: client}, nil
}

func (p *FCMProvider) Name() string { return "fcm" }

func (p *FCMProvider) Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error) {
	if len(tokens) == 0 {
		return &SendResult{}, nil
	}
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   n.Data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Tag: n.Data["roomId"],
			},
		},
	}
	resp, err := p.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return &SendResult{FailureCount: len(tokens)}, fmt.Errorf("fcm multicast: %w", err)
	}

	res := &SendResult{SuccessCount: resp.SuccessCount, FailureCount: resp.FailureCount}
	for i, r := range resp.Responses {
		if r.Success || r.Error == nil || i >= len(tokens) {
			continue
		}
		if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			res.InvalidTokens = append(res.InvalidTokens, tokens[i])
			continue
		}
		log.Debug().Err(r.Error).Str("module", "notify.fcm").Int("index", i).Msg("send failed")
	}
	return res, nil
}
