package gmail

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/leadloft/leadloft/internal/config"
)

// ErrHistoryExpired is returned when the stored history cursor is too
// old for the provider to replay. The caller must fall back to the
// latest message and re-anchor the cursor.
var ErrHistoryExpired = stderrors.New("history cursor expired")

const (
	// historyPageSize keeps history pages small. A push notification
	// rarely covers more than a couple of messages.
	historyPageSize = 5

	// maxHistoryMessages bounds one notification's catch-up fetch.
	// Anything beyond the budget is picked up by the next notification
	// or lost to the same approximation an expired cursor accepts.
	maxHistoryMessages = 25

	// watchLabel limits the push subscription to the inbox.
	watchLabel = "INBOX"
)

// Client wraps the Gmail API for a single mailbox.
type Client struct {
	svc *gmailapi.Service
}

// NewClient builds a Gmail client authenticated with the given access
// token. The API endpoint can be overridden through the config for
// tests.
func NewClient(ctx context.Context, accessToken string, cfg config.GoogleConfig) (*Client, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if cfg.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.APIEndpoint))
	}

	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// Profile returns the mailbox address and its current history ID.
func (c *Client) Profile(ctx context.Context) (string, string, error) {
	profile, err := c.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("get profile: %w", err)
	}
	return profile.EmailAddress, strconv.FormatUint(profile.HistoryId, 10), nil
}

// Watch registers the mailbox for push notifications on the given
// Pub/Sub topic. Returns the baseline history ID and the subscription
// expiration.
func (c *Client) Watch(ctx context.Context, topic string) (string, time.Time, error) {
	resp, err := c.svc.Users.Watch("me", &gmailapi.WatchRequest{
		TopicName: topic,
		LabelIds:  []string{watchLabel},
	}).Context(ctx).Do()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("start watch: %w", err)
	}
	return strconv.FormatUint(resp.HistoryId, 10), time.UnixMilli(resp.Expiration).UTC(), nil
}

// Stop cancels the push subscription for the mailbox.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.svc.Users.Stop("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("stop watch: %w", err)
	}
	return nil
}

// HistorySince lists the IDs of messages added to the inbox after the
// given cursor, together with the new cursor to persist. A cursor the
// provider no longer remembers yields ErrHistoryExpired.
func (c *Client) HistorySince(ctx context.Context, startHistoryID string) ([]string, string, error) {
	start, err := strconv.ParseUint(startHistoryID, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("invalid history cursor %q: %w", startHistoryID, err)
	}

	var (
		messageIDs []string
		seen       = make(map[string]bool)
		newCursor  = startHistoryID
		pageToken  = ""
	)
	for {
		call := c.svc.Users.History.List("me").
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			LabelId(watchLabel).
			MaxResults(historyPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var apiErr *googleapi.Error
			if stderrors.As(err, &apiErr) && apiErr.Code == 404 {
				return nil, "", ErrHistoryExpired
			}
			return nil, "", fmt.Errorf("list history: %w", err)
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				if len(messageIDs) >= maxHistoryMessages {
					break
				}
				seen[added.Message.Id] = true
				messageIDs = append(messageIDs, added.Message.Id)
			}
		}
		if resp.HistoryId > 0 {
			newCursor = strconv.FormatUint(resp.HistoryId, 10)
		}
		if resp.NextPageToken == "" || len(messageIDs) >= maxHistoryMessages {
			break
		}
		pageToken = resp.NextPageToken
	}

	return messageIDs, newCursor, nil
}

// LatestMessageID returns the ID of the most recent message in the
// mailbox, or an empty string for an empty mailbox.
func (c *Client) LatestMessageID(ctx context.Context) (string, error) {
	resp, err := c.svc.Users.Messages.List("me").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	if len(resp.Messages) == 0 {
		return "", nil
	}
	return resp.Messages[0].Id, nil
}

// GetMessage fetches a full message by ID.
func (c *Client) GetMessage(ctx context.Context, id string) (*gmailapi.Message, error) {
	msg, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

// IsAuthError reports whether the provider rejected our credentials.
// Worth one forced token refresh and retry before giving up.
func IsAuthError(err error) bool {
	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 401 || apiErr.Code == 403
}
