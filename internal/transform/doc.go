// Package transform adapts captured pages through a generative model.
//
// A Transformer receives the captured page and a model key and returns a
// complete HTML document. OpenAI talks to any OpenAI-compatible
// chat-completions endpoint with streaming enabled; Passthrough hands the
// captured markup back and is used when no provider is configured.
package transform
