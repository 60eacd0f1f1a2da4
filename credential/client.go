package credential

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/log"
)

const issueTimeout = 10 * time.Second

// IdentityTokenFunc supplies the bearer identity token attached to every
// issue request.
type IdentityTokenFunc func() (string, error)

type issueRequest struct {
	ChannelName string `json:"channelName"`
	Identity    string `json:"identity"`
	Role        string `json:"role"`
}

type issueErrorBody struct {
	Error string `json:"error"`
}

type clientImpl struct {
	rc        *resty.Client
	baseURL   string
	tokenFunc IdentityTokenFunc
	logger    *log.Logger
}

// NewClient creates a credential service client backed by go-resty. The
// client performs a single attempt per Issue call; retry policy belongs to
// the caller.
func NewClient(baseURL string, tokenFunc IdentityTokenFunc, logger *log.Logger) Issuer {
	if logger == nil {
		panic("logger is required")
	}
	if tokenFunc == nil {
		panic("identity token func is required")
	}

	rc := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(issueTimeout)

	return &clientImpl{
		rc:        rc,
		baseURL:   strings.TrimRight(baseURL, "/"),
		tokenFunc: tokenFunc,
		logger:    logger,
	}
}

func (c *clientImpl) Issue(ctx context.Context, channelName, identity string, role constants.Role) (*Credential, error) {
	token, err := c.tokenFunc()
	if err != nil {
		return nil, errors.Wrap(ErrUnauthenticated, err, "resolve identity token")
	}

	var (
		cred    Credential
		errBody issueErrorBody
	)
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(&issueRequest{
			ChannelName: channelName,
			Identity:    identity,
			Role:        string(role),
		}).
		SetResult(&cred).
		SetError(&errBody).
		Post(c.baseURL + "/v1/credentials")

	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, err, "issue credential for %s", channelName)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, errors.Newf(ErrUnauthenticated, "credential service refused: %s", errBody.Error)
	case resp.IsError():
		return nil, errors.Newf(ErrUnavailable, "credential service returned %d: %s", resp.StatusCode(), errBody.Error)
	}

	c.logger.Debug("Issued credential",
		log.String("channelName", channelName),
		log.String("identity", identity),
		log.String("role", string(role)),
		log.Time("expiresAt", cred.ExpiresAt))
	return &cred, nil
}
