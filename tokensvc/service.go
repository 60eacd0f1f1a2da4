package tokensvc

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/nadimpalla570/myazan-app/credential"
	"github.com/nadimpalla570/myazan-app/credential/token"
	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/log"
	isync "github.com/nadimpalla570/myazan-app/internal/sync"
)

const ErrRateLimited errors.Code = "rate limited"

type Config struct {
	CredentialSecret string        `mapstructure:"credential_secret"`
	CredentialTTL    time.Duration `mapstructure:"credential_ttl"`
	IssueRate        float64       `mapstructure:"issue_rate"`
	IssueBurst       int           `mapstructure:"issue_burst"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("credential_secret"), "")
	v.SetDefault(p("credential_ttl"), "1h")
	v.SetDefault(p("issue_rate"), 5.0)
	v.SetDefault(p("issue_burst"), 10)
}

// Service issues short-lived channel credentials. One rate limiter per
// requesting identity.
type Service struct {
	codec     token.Codec
	ttl       time.Duration
	limiters  *isync.Map[string, *rate.Limiter]
	issueRate rate.Limit
	burst     int
	clock     clockwork.Clock
	logger    *log.Logger
}

func NewService(cfg *Config, clock clockwork.Clock, logger *log.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	issueRate := rate.Limit(cfg.IssueRate)
	if issueRate <= 0 {
		issueRate = 5
	}
	burst := cfg.IssueBurst
	if burst <= 0 {
		burst = 10
	}

	return &Service{
		codec:     token.NewCodec(cfg.CredentialSecret, clock),
		ttl:       ttl,
		limiters:  isync.NewMap[string, *rate.Limiter](),
		issueRate: issueRate,
		burst:     burst,
		clock:     clock,
		logger:    logger,
	}
}

// Issue signs a credential for the tuple, enforcing the per-identity rate
// limit first.
func (s *Service) Issue(ctx context.Context, channelName, identity string, role constants.Role) (*credential.Credential, error) {
	limiter, _ := s.limiters.LoadOrStore(identity, rate.NewLimiter(s.issueRate, s.burst))
	if !limiter.Allow() {
		issuesRateLimited.Add(ctx, 1)
		return nil, errors.Newf(ErrRateLimited, "identity %s exceeded issue rate", identity)
	}

	signed, expiresAt, err := s.codec.Sign(channelName, identity, role, s.ttl)
	if err != nil {
		return nil, err
	}

	issuesTotal.Add(ctx, 1)
	s.logger.Info("Issued credential",
		log.String("channelName", channelName),
		log.String("identity", identity),
		log.String("role", string(role)),
		log.Time("expiresAt", expiresAt))

	return &credential.Credential{
		Credential: signed,
		ExpiresAt:  expiresAt,
	}, nil
}
