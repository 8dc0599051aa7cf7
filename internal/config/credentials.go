package config

import (
	"github.com/hpn/hpn-ernie-router/internal/domain"
	"github.com/spf13/viper"
)

// Process-wide credential variables.
const (
	EnvAccessToken = "EB_AGENT_ACCESS_TOKEN"
	EnvAK          = "EB_AGENT_AK"
	EnvSK          = "EB_AGENT_SK"
)

// credentialEnv reads the three credential variables through viper so they
// follow the same EB_AGENT_ prefix rules as the rest of the configuration.
func credentialEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	_ = v.BindEnv("access_token")
	_ = v.BindEnv("ak")
	_ = v.BindEnv("sk")
	return v
}

// GlobalAccessToken returns EB_AGENT_ACCESS_TOKEN, or "" when unset.
func GlobalAccessToken() string {
	return credentialEnv().GetString("access_token")
}

// GlobalAKSK returns the qianfan key pair from EB_AGENT_AK and EB_AGENT_SK.
// Either half may be empty.
func GlobalAKSK() domain.Credentials {
	v := credentialEnv()
	return domain.Credentials{
		AK: v.GetString("ak"),
		SK: v.GetString("sk"),
	}
}
