// Package jobs publishes asynchronous work for out-of-process consumers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"golang.org/x/text/language"

	"github.com/planvault/api/internal/services"
)

// deliveryNoticePayload is the wire format consumed by the email worker.
type deliveryNoticePayload struct {
	Recipient           string    `json:"recipient"`
	Locale              string    `json:"locale"`
	ListingTitle        string    `json:"listingTitle,omitempty"`
	OrderID             string    `json:"orderId"`
	RedemptionReference string    `json:"redemptionReference"`
	ExpiresAt           time.Time `json:"expiresAt"`
	PublishedAt         time.Time `json:"publishedAt"`
}

// PubSubDeliveryPublisher publishes delivery notices to a Pub/Sub topic. The
// email worker consuming the topic renders and sends the actual message.
type PubSubDeliveryPublisher struct {
	topic         *pubsub.Topic
	matcher       language.Matcher
	supported     []language.Tag
	defaultLocale string
	clock         func() time.Time
	marshal       func(any) ([]byte, error)
}

// PubSubDeliveryPublisherConfig configures the publisher.
type PubSubDeliveryPublisherConfig struct {
	Topic            *pubsub.Topic
	DefaultLocale    string
	SupportedLocales []string
	Clock            func() time.Time
}

// NewPubSubDeliveryPublisher constructs a Pub/Sub backed delivery notifier.
func NewPubSubDeliveryPublisher(cfg PubSubDeliveryPublisherConfig) (*PubSubDeliveryPublisher, error) {
	if cfg.Topic == nil {
		return nil, errors.New("pubsub delivery publisher: topic is required")
	}

	defaultLocale := strings.TrimSpace(cfg.DefaultLocale)
	if defaultLocale == "" {
		defaultLocale = "en-US"
	}
	defaultTag, err := language.Parse(defaultLocale)
	if err != nil {
		return nil, fmt.Errorf("pubsub delivery publisher: invalid default locale %q: %w", defaultLocale, err)
	}

	// The default locale leads the matcher so unknown buyer locales fall
	// back to it.
	supported := []language.Tag{defaultTag}
	for _, raw := range cfg.SupportedLocales {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		tag, err := language.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("pubsub delivery publisher: invalid supported locale %q: %w", raw, err)
		}
		if tag == defaultTag {
			continue
		}
		supported = append(supported, tag)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &PubSubDeliveryPublisher{
		topic:         cfg.Topic,
		matcher:       language.NewMatcher(supported),
		supported:     supported,
		defaultLocale: defaultTag.String(),
		clock: func() time.Time {
			return clock().UTC()
		},
		marshal: json.Marshal,
	}, nil
}

// SendDeliveryNotice publishes one notice on the configured topic.
func (p *PubSubDeliveryPublisher) SendDeliveryNotice(ctx context.Context, notice services.DeliveryNotice) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub delivery publisher: not initialised")
	}
	recipient := strings.TrimSpace(notice.Recipient)
	if recipient == "" {
		return errors.New("pubsub delivery publisher: recipient is required")
	}

	payload := deliveryNoticePayload{
		Recipient:           recipient,
		Locale:              p.resolveLocale(notice.Locale),
		ListingTitle:        strings.TrimSpace(notice.ListingTitle),
		OrderID:             notice.OrderID,
		RedemptionReference: notice.RedemptionReference,
		ExpiresAt:           notice.ExpiresAt,
		PublishedAt:         p.clock(),
	}

	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal delivery notice: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", notice.OrderID)
	setAttr(attrs, "locale", payload.Locale)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish delivery notice: %w", err)
	}
	return nil
}

// resolveLocale matches the buyer's locale against the supported set and
// falls back to the default when nothing matches.
func (p *PubSubDeliveryPublisher) resolveLocale(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return p.defaultLocale
	}
	desired, err := language.Parse(raw)
	if err != nil {
		return p.defaultLocale
	}
	_, index, confidence := p.matcher.Match(desired)
	if confidence == language.No {
		return p.defaultLocale
	}
	return p.supported[index].String()
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
