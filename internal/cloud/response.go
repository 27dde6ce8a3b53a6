package cloud

import (
	"net/http"

	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Response is a provider reply keyed by its HTTP status. Payload is call specific.
type Response struct {
	StatusCode int    `json:"statusCode"`
	RequestID  string `json:"requestId,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// OK reports whether the provider answered with a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TemplateParameter describes a parameter declared by a validated template.
type TemplateParameter struct {
	Key         string `json:"key"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	NoEcho      bool   `json:"noEcho,omitempty"`
}

// ValidateResult is the payload of a template validation.
type ValidateResult struct {
	Description        string              `json:"description,omitempty"`
	Parameters         []TemplateParameter `json:"parameters,omitempty"`
	Capabilities       []string            `json:"capabilities,omitempty"`
	CapabilitiesReason string              `json:"capabilitiesReason,omitempty"`
	DeclaredTransforms []string            `json:"declaredTransforms,omitempty"`
}

// EstimateResult is the payload of a cost estimate.
type EstimateResult struct {
	URL string `json:"url"`
}

func newResponse(md middleware.Metadata, payload any) Response {
	out := Response{StatusCode: http.StatusOK, Payload: payload}
	// The SDK turns non-2xx replies into errors, so a missing raw response still means success.
	if raw, ok := awsmiddleware.GetRawResponse(md).(*smithyhttp.Response); ok && raw != nil && raw.Response != nil {
		out.StatusCode = raw.StatusCode
	}
	if id, ok := awsmiddleware.GetRequestIDMetadata(md); ok {
		out.RequestID = id
	}
	return out
}
