package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"postsmith/app/internal/domain/publish"
)

const (
	defaultEndpoint = "https://api.twitter.com/2/tweets"
	defaultTimeout  = 30 * time.Second
	platformName    = "x"
	maxErrorBody    = 64 << 10
)

// Credentials are the OAuth 1.0a user-context keys of the posting account.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Options configures a Publisher.
type Options struct {
	Credentials Credentials
	// Endpoint overrides the create-post URL.
	Endpoint string
	// HTTPClient is the base client that signed requests are sent through.
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Publisher creates posts through the X API v2.
type Publisher struct {
	endpoint string
	client   *http.Client
	logger   *logrus.Logger
}

var _ publish.Publisher = (*Publisher)(nil)

type createPostRequest struct {
	Text string `json:"text"`
}

type createPostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// NewPublisher validates the credentials and builds an OAuth1-signing Publisher.
func NewPublisher(opts Options) (*Publisher, error) {
	creds := opts.Credentials
	if strings.TrimSpace(creds.ConsumerKey) == "" || strings.TrimSpace(creds.ConsumerSecret) == "" {
		return nil, eris.New("x consumer key and secret are required")
	}
	if strings.TrimSpace(creds.AccessToken) == "" || strings.TrimSpace(creds.AccessSecret) == "" {
		return nil, eris.New("x access token and secret are required")
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultTimeout}
	}

	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, base)

	signed := config.Client(ctx, token)
	signed.Timeout = base.Timeout

	return &Publisher{
		endpoint: endpoint,
		client:   signed,
		logger:   opts.Logger,
	}, nil
}

// Platform implements publish.Publisher.
func (p *Publisher) Platform() string {
	return platformName
}

// Publish posts text and returns the identifier assigned by the platform.
func (p *Publisher) Publish(ctx context.Context, text string) (publish.PostID, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &publish.Error{Detail: "post text is empty"}
	}

	payload, err := json.Marshal(createPostRequest{Text: trimmed})
	if err != nil {
		return "", eris.Wrap(err, "encoding post payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "building post request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logError(nil, err, "sending post request")
		return "", eris.Wrap(&publish.Error{Detail: err.Error()}, "sending post request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", eris.Wrap(&publish.Error{Status: resp.StatusCode, Detail: err.Error()}, "reading post response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rejection := &publish.Error{Status: resp.StatusCode, Detail: describeFailure(body, resp.Status)}
		p.logError(logrus.Fields{"status": resp.StatusCode}, rejection, "post rejected")
		return "", rejection
	}

	var created createPostResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", &publish.Error{Status: resp.StatusCode, Detail: "malformed response: " + err.Error()}
	}

	id := strings.TrimSpace(created.Data.ID)
	if id == "" {
		return "", &publish.Error{Status: resp.StatusCode, Detail: "response did not include a post id"}
	}

	return publish.PostID(id), nil
}

func describeFailure(body []byte, status string) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if detail := strings.TrimSpace(apiErr.Detail); detail != "" {
			return detail
		}
		for _, item := range apiErr.Errors {
			if message := strings.TrimSpace(item.Message); message != "" {
				return message
			}
		}
		if title := strings.TrimSpace(apiErr.Title); title != "" {
			return title
		}
	}

	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	return status
}

func (p *Publisher) logError(fields logrus.Fields, err error, message string) {
	if p.logger == nil || err == nil {
		return
	}

	entry := p.logger.WithField("error", err.Error()).WithField("platform", platformName)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
