package tools

import "fmt"

// Block is one tagged content variant of a tool response. Clients branch
// on Type; the other fields are populated per variant.
type Block struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// resource (embedded, with full content)
	Resource *EmbeddedResource `json:"resource,omitempty"`

	// resource_link (URI reference only)
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// EmbeddedResource carries a resource's full content inline.
type EmbeddedResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Result is the uniform tool response envelope.
type Result struct {
	Content []Block `json:"content"`
	IsError bool    `json:"isError,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(format string, args ...interface{}) Block {
	return Block{Type: "text", Text: fmt.Sprintf(format, args...)}
}

// ImageBlock builds an image content block from base64 data.
func ImageBlock(data, mimeType string) Block {
	return Block{Type: "image", Data: data, MimeType: mimeType}
}

// ResourceBlock embeds a resource with its content.
func ResourceBlock(uri, name, mimeType, description, text string) Block {
	return Block{Type: "resource", Resource: &EmbeddedResource{
		URI:         uri,
		Name:        name,
		MimeType:    mimeType,
		Description: description,
		Text:        text,
	}}
}

// ResourceLinkBlock references a resource by URI without its content.
func ResourceLinkBlock(uri, name, mimeType, description string) Block {
	return Block{
		Type:        "resource_link",
		URI:         uri,
		Name:        name,
		MimeType:    mimeType,
		Description: description,
	}
}

// TextResult wraps a single text block in a success envelope.
func TextResult(format string, args ...interface{}) *Result {
	return &Result{Content: []Block{TextBlock(format, args...)}}
}

// ErrorResult wraps a message in an error envelope.
func ErrorResult(format string, args ...interface{}) *Result {
	return &Result{
		Content: []Block{TextBlock(format, args...)},
		IsError: true,
	}
}
