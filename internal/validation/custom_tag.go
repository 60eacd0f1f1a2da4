package validation

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nadimpalla570/myazan-app/internal/constants"
)

var identityRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

func init() {
	MustRegisterGin("identity", ValidateIdentity)
	MustRegisterGin("channelname", ValidateChannelName)
	MustRegisterGinAlias("senderid", "identity")
	MustRegisterGinAlias("role", "oneof=sender receiver")
	MustRegisterGinAlias("sessionid", "min=3,max=96")
}

// ValidateIdentity validates identity format: 3-64 characters, alphanumeric with hyphens and underscores
func ValidateIdentity(fl validator.FieldLevel) bool {
	return identityRegex.MatchString(fl.Field().String())
}

// ValidateChannelName requires the fixed channel prefix plus a valid sender identity
func ValidateChannelName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if !strings.HasPrefix(name, constants.ChannelPrefix) {
		return false
	}
	return identityRegex.MatchString(strings.TrimPrefix(name, constants.ChannelPrefix))
}
