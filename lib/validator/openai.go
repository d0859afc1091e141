package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	tokenizer "github.com/sandwich-go/gpt3-encoder"
	"github.com/sashabaranov/go-openai"

	"github.com/commentguard/comment-guard/lib/comment"
)

// openAIChecker is a wrapper for OpenAI API to get a second opinion on a
// comment. Like the other external reputation check it only flags, never
// clears: a flagged comment scores a fixed 0.5, anything else is abstention.
type openAIChecker struct {
	client openAIClient
	params OpenAIConfig
}

// OpenAIConfig contains parameters for openAIChecker.
type OpenAIConfig struct {
	// https://platform.openai.com/docs/api-reference/chat/create#chat/create-max_tokens
	MaxTokensResponse int // hard limit for the number of tokens in the response
	// the OpenAI has a limit for the number of tokens in the request + response
	MaxTokensRequest  int // max request length in tokens
	MaxSymbolsRequest int // fallback: max request length in symbols, if tokenizer failed
	Model             string
	SystemPrompt      string
}

type openAIClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const defaultPrompt = `I'll give you a blog comment and you will return me a json with three fields: {"spam": true/false, "reason":"why this is spam", "confidence":1-100}. Set spam:true only of confidence above 80`

type openAIResponse struct {
	IsSpam     bool   `json:"spam"`
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
}

// WithOpenAI registers the "openai" validator backed by an LLM.
func WithOpenAI(client *openai.Client, cfg OpenAIConfig) Option {
	return func(d *Detector) {
		var c openAIClient
		if client != nil {
			c = client
		}
		d.registry["openai"] = newOpenAIChecker(c, cfg).check
	}
}

func newOpenAIChecker(client openAIClient, params OpenAIConfig) *openAIChecker {
	if params.SystemPrompt == "" {
		params.SystemPrompt = defaultPrompt
	}
	if params.MaxTokensResponse == 0 {
		params.MaxTokensResponse = 1024
	}
	if params.MaxTokensRequest == 0 {
		params.MaxTokensRequest = 1024
	}
	if params.MaxSymbolsRequest == 0 {
		params.MaxSymbolsRequest = 8192
	}
	if params.Model == "" {
		params.Model = "gpt-4"
	}
	return &openAIChecker{client: client, params: params}
}

// check asks the model for a verdict on the comment body. Any failure is
// degraded to abstention, the integration is optional and must not abort the chain.
func (o *openAIChecker) check(ctx context.Context, cmt comment.Comment, _ comment.Request) (comment.Score, error) {
	if o.client == nil {
		return comment.Abstain(), nil
	}

	resp, err := o.sendRequest(ctx, cmt.Body)
	if err != nil {
		log.Printf("[WARN] openai check failed, no opinion: %v", err)
		return comment.Abstain(), nil
	}
	if resp.IsSpam {
		log.Printf("[DEBUG] openai flagged %s: %s, confidence %d%%", &cmt, resp.Reason, resp.Confidence)
		return comment.ScoreOf(0.5), nil
	}
	return comment.Abstain(), nil
}

func (o *openAIChecker) sendRequest(ctx context.Context, msg string) (response openAIResponse, err error) {
	// reduce the request size with tokenizer and fallback to default reducer if it fails.
	// the api limits request + response tokens together, the response reservation
	// is accounted for by MaxTokensRequest.
	reduceRequest := func(text string) (result string) {
		defaultReducer := func(text string) (result string) {
			if len(text) <= o.params.MaxSymbolsRequest {
				return text
			}
			return text[:o.params.MaxSymbolsRequest]
		}

		encoder, tokErr := tokenizer.NewEncoder()
		if tokErr != nil {
			return defaultReducer(text)
		}

		tokens, encErr := encoder.Encode(text)
		if encErr != nil {
			return defaultReducer(text)
		}

		if len(tokens) <= o.params.MaxTokensRequest {
			return text
		}

		return encoder.Decode(tokens[:o.params.MaxTokensRequest])
	}

	r := reduceRequest(msg)

	data := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: o.params.SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: r},
	}

	resp, err := o.client.CreateChatCompletion(ctx,
		openai.ChatCompletionRequest{Model: o.params.Model, MaxTokens: o.params.MaxTokensResponse, Messages: data})
	if err != nil {
		return openAIResponse{}, err
	}

	if len(resp.Choices) == 0 {
		return openAIResponse{}, fmt.Errorf("no choices in response")
	}

	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &response); err != nil {
		return openAIResponse{}, fmt.Errorf("can't unmarshal response: %w", err)
	}

	return response, nil
}
