package delivery

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSConfig describes a generic HTTP SMS gateway.
type SMSConfig struct {
	URL           string            `toml:"url" env:"URL"`
	MessageParam  string            `toml:"message_param" env:"MESSAGE_PARAM"`
	ReceiverParam string            `toml:"receiver_param" env:"RECEIVER_PARAM"`
	StaticParams  map[string]string `toml:"static_params" env:"STATIC_PARAMS"`
	UseGET        bool              `toml:"use_get" env:"USE_GET"`
	Timeout       time.Duration     `toml:"timeout" env:"TIMEOUT"`
}

// HTTPSMSGateway implements SMSGateway by calling a provider URL with the
// message and receiver as form or query parameters.
type HTTPSMSGateway struct {
	cfg    SMSConfig
	client *http.Client
}

// NewHTTPSMSGateway returns nil when cfg has no URL.
func NewHTTPSMSGateway(cfg SMSConfig, client *http.Client) *HTTPSMSGateway {
	if cfg.URL == "" {
		return nil
	}
	if cfg.MessageParam == "" {
		cfg.MessageParam = "message"
	}
	if cfg.ReceiverParam == "" {
		cfg.ReceiverParam = "to"
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSMSGateway{cfg: cfg, client: client}
}

// SendSMS implements SMSGateway. Non-2xx statuses are returned without an
// error; transport failures return an error.
func (g *HTTPSMSGateway) SendSMS(ctx context.Context, recipient, message string) (int, error) {
	params := url.Values{}
	for k, v := range g.cfg.StaticParams {
		params.Set(k, v)
	}
	params.Set(g.cfg.MessageParam, message)
	params.Set(g.cfg.ReceiverParam, recipient)

	var (
		req *http.Request
		err error
	)
	if g.cfg.UseGET {
		target, perr := url.Parse(g.cfg.URL)
		if perr != nil {
			return 0, perr
		}
		q := target.Query()
		for k, vs := range params {
			q[k] = vs
		}
		target.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return 0, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
