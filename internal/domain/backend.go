// Package domain contains the core business entities and value objects.
// These structs are framework-agnostic and represent the heart of the application.
package domain

// APIType selects the ERNIE Bot backend that serves a request.
type APIType string

const (
	// APITypeAIStudio authenticates with an AI Studio access token.
	APITypeAIStudio APIType = "aistudio"

	// APITypeQianfan authenticates with an access token or an ak/sk pair.
	APITypeQianfan APIType = "qianfan"
)

// IsValid reports whether the backend is one we know how to call.
func (t APIType) IsValid() bool {
	return t == APITypeAIStudio || t == APITypeQianfan
}

// Supported chat model names.
const (
	ModelERNIE35       = "ernie-3.5"
	ModelERNIETurbo    = "ernie-turbo"
	ModelERNIE40       = "ernie-4.0"
	ModelERNIELongText = "ernie-longtext"
)

// SupportedModels lists the chat models in display order.
func SupportedModels() []string {
	return []string{ModelERNIE35, ModelERNIETurbo, ModelERNIE40, ModelERNIELongText}
}

// IsSupportedModel reports whether name is a known chat model.
func IsSupportedModel(name string) bool {
	for _, m := range SupportedModels() {
		if m == name {
			return true
		}
	}
	return false
}

// Credentials holds what a backend needs to authenticate.
type Credentials struct {
	// AccessToken authenticates directly. Used by both backends.
	AccessToken string `json:"access_token" mapstructure:"access_token"`

	// AK and SK are the qianfan key pair exchanged for an access token.
	AK string `json:"ak" mapstructure:"ak"`
	SK string `json:"sk" mapstructure:"sk"`
}

// HasAccessToken reports whether an access token is present.
func (c Credentials) HasAccessToken() bool {
	return c.AccessToken != ""
}

// HasKeyPair reports whether both halves of the ak/sk pair are present.
func (c Credentials) HasKeyPair() bool {
	return c.AK != "" && c.SK != ""
}
