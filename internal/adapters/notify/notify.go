package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoTokens        = errors.New("no push tokens registered")
	ErrInvalidToken    = errors.New("invalid push token")
	ErrUnknownPlatform = errors.New("unknown push platform")
)

type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformAPNs Platform = "apns"
)

func ParsePlatform(raw string) (Platform, error) {
	switch p := Platform(raw); p {
	case PlatformFCM, PlatformAPNs:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, raw)
}

// Token is a device registration of one user.
type Token struct {
	Token    string   `json:"token"`
	Platform Platform `json:"platform"`
}

// Notification is the platform-neutral push payload.
type Notification struct {
	Title    string
	Body     string
	Data     map[string]string
	Category string
}

type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Provider delivers one notification to many devices of the same platform.
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error)
}

// TokenStore keeps device tokens per user.
type TokenStore interface {
	Add(ctx context.Context, user domain.UserID, t Token) error
	List(ctx context.Context, user domain.UserID) ([]Token, error)
	Remove(ctx context.Context, user domain.UserID, token string) error
}

// Compose turns a relay summary into the notification shown to the user.
func Compose(s core.Summary) *Notification {
	n := &Notification{
		Data: map[string]string{
			"kind":     s.Kind,
			"roomId":   string(s.RoomID),
			"callerId": string(s.CallerID),
			"callType": string(s.CallType),
		},
	}
	switch protocol.Kind(s.Kind) {
	case protocol.KindIncomingCall:
		n.Category = "incoming_call"
		n.Title = fmt.Sprintf("Incoming %s call", callTypeLabel(s.CallType))
		n.Body = fmt.Sprintf("%s is calling you", s.CallerID)
	case protocol.KindCallEnded, protocol.KindCallRejected:
		n.Category = "missed_call"
		n.Title = "Missed call"
		n.Body = fmt.Sprintf("You missed a call from %s", s.CallerID)
	default:
		n.Category = "call_update"
		n.Title = "Call update"
		n.Body = fmt.Sprintf("Call %s: %s", s.RoomID, s.Kind)
	}
	return n
}

func callTypeLabel(t domain.CallType) string {
	if t == domain.CallVideo {
		return "video"
	}
	return "voice"
}

// LogNotifier only records that a push would have been sent.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, target domain.UserID, s core.Summary) error {
	n := Compose(s)
	log.Info().Str("module", "notify").Str("to", string(target)).Str("kind", s.Kind).
		Str("room_id", string(s.RoomID)).Str("title", n.Title).Msg("offline notification")
	return nil
}

// PushNotifier fans a notification out to every registered device of the
// target, grouped by platform. Tokens a provider reports invalid are dropped.
type PushNotifier struct {
	Store     TokenStore
	Providers map[Platform]Provider
}

func (p *PushNotifier) Notify(ctx context.Context, target domain.UserID, s core.Summary) error {
	tokens, err := p.Store.List(ctx, target)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	if len(tokens) == 0 {
		return ErrNoTokens
	}

	byPlatform := make(map[Platform][]string)
	for _, t := range tokens {
		byPlatform[t.Platform] = append(byPlatform[t.Platform], t.Token)
	}

	n := Compose(s)
	var errs []error
	delivered := 0
	for platform, list := range byPlatform {
		provider, ok := p.Providers[platform]
		if !ok {
			log.Debug().Str("module", "notify").Str("platform", string(platform)).Msg("no provider configured")
			continue
		}
		res, err := provider.Send(ctx, n, list)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
		}
		if res == nil {
			continue
		}
		delivered += res.SuccessCount
		for _, bad := range res.InvalidTokens {
			if err := p.Store.Remove(ctx, target, bad); err != nil {
				log.Warn().Err(err).Str("module", "notify").Str("user", string(target)).Msg("remove invalid token")
			}
		}
		log.Debug().Str("module", "notify").Str("provider", provider.Name()).Str("to", string(target)).
			Int("success", res.SuccessCount).Int("failure", res.FailureCount).
			Int("invalid", len(res.InvalidTokens)).Msg("push sent")
	}
	if delivered > 0 {
		return nil
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return fmt.Errorf("push to %s: no device accepted the notification", target)
}
