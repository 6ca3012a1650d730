package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

type APNsConfig struct {
	KeyPath      string
	KeyID        string
	TeamID       string
	CertPath     string
	CertPassword string
	BundleID     string
	Production   bool
}

type pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsProvider sends to iOS devices. Token auth is preferred over a .p12 certificate.
type APNsProvider struct {
	client pusher
	topic  string
}

func NewAPNsProvider(cfg APNsConfig) (*APNsProvider, error) {
	if cfg.BundleID == "" {
		return nil, errors.New("apns: bundle id is required")
	}

	var client *apns2.Client
	switch {
	case cfg.KeyPath != "" && cfg.KeyID != "" && cfg.TeamID != "":
		authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("apns: load auth key: %w", err)
		}
		client = apns2.NewTokenClient(&token.Token{
			AuthKey: authKey,
			KeyID:   cfg.KeyID,
			TeamID:  cfg.TeamID,
		})
	case cfg.CertPath != "":
		cert, err := certificate.FromP12File(cfg.CertPath, cfg.CertPassword)
		if err != nil {
			return nil, fmt.Errorf("apns: load certificate: %w", err)
		}
		client = apns2.NewClient(cert)
	default:
		return nil, errors.New("apns: either a signing key or a certificate is required")
	}

	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	log.Info().Str("module", "notify.apns").Str("bundle_id", cfg.BundleID).Bool("production", cfg.Production).Msg("apns client ready")
	return &APNsProvider{client: client, topic: cfg.BundleID}, nil
}

func (p *APNsProvider) Name() string { return "apns" }

func (p *APNsProvider) Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error) {
	pl := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound("default").
		Category(n.Category)
	for k, v := range n.Data {
		pl = pl.Custom(k, v)
	}

	res := &SendResult{}
	var lastErr error
	for _, tok := range tokens {
		resp, err := p.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: tok,
			Topic:       p.topic,
			Payload:     pl,
			Priority:    apns2.PriorityHigh,
			PushType:    apns2.PushTypeAlert,
			CollapseID:  n.Data["roomId"],
		})
		if err != nil {
			res.FailureCount++
			lastErr = err
			continue
		}
		if resp.Sent() {
			res.SuccessCount++
			continue
		}
		res.FailureCount++
		if resp.StatusCode == http.StatusGone ||
			resp.Reason == apns2.ReasonUnregistered ||
			resp.Reason == apns2.ReasonBadDeviceToken {
			res.InvalidTokens = append(res.InvalidTokens, tok)
			continue
		}
		log.Debug().Str("module", "notify.apns").Int("status", resp.StatusCode).Str("reason", resp.Reason).Msg("push rejected")
	}
	if res.SuccessCount == 0 && lastErr != nil {
		return res, fmt.Errorf("apns push: %w", lastErr)
	}
	return res, nil
}
