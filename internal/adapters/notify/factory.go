package notify

import (
	"context"
	"fmt"

	"github.com/dkeye/Dialtone/internal/core"
)

type Options struct {
	Provider string
	FCM      FCMConfig
	APNs     APNsConfig
}

// New builds the notifier named by opts.Provider: "log", "fcm", "apns" or "all".
func New(ctx context.Context, opts Options, store TokenStore) (core.OfflineNotifier, error) {
	providers := make(map[Platform]Provider)
	switch opts.Provider {
	case "", "log":
		return LogNotifier{}, nil
	case "fcm", "apns", "all":
	default:
		return nil, fmt.Errorf("unknown push provider %q", opts.Provider)
	}

	if opts.Provider == "fcm" || opts.Provider == "all" {
		p, err := NewFCMProvider(ctx, opts.FCM)
		if err != nil {
			return nil, err
		}
		providers[PlatformFCM] = p
	}
	if opts.Provider == "apns" || opts.Provider == "all" {
		p, err := NewAPNsProvider(opts.APNs)
		if err != nil {
			return nil, err
		}
		providers[PlatformAPNs] = p
	}
	return &PushNotifier{Store: store, Providers: providers}, nil
}
