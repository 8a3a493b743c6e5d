// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmtest provides a scripted LLMClient for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/aira/services/llm"
)

// ErrScriptExhausted is returned when no reply is queued and no Fallback
// function is set.
var ErrScriptExhausted = errors.New("llmtest: no scripted reply left")

// Reply is one scripted outcome.
type Reply struct {
	Text string
	Err  error
}

// Call records one request seen by the fake.
type Call struct {
	Op       string
	Prompt   string
	Messages []llm.ChatMessage
}

// Client replays queued replies in order, then defers to Fallback.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	replies  []Reply
	calls    []Call
	Fallback func(call Call) (string, error)
}

// New returns a client that answers with texts in order.
func New(texts ...string) *Client {
	c := &Client{}
	for _, t := range texts {
		c.replies = append(c.replies, Reply{Text: t})
	}
	return c
}

// Always returns a client that answers every call with text.
func Always(text string) *Client {
	return &Client{Fallback: func(Call) (string, error) { return text, nil }}
}

// Failing returns a client whose every call fails with err.
func Failing(err error) *Client {
	return &Client{Fallback: func(Call) (string, error) { return "", err }}
}

// Queue appends scripted replies.
func (c *Client) Queue(replies ...Reply) *Client {
	c.mu.Lock()
	c.replies = append(c.replies, replies...)
	c.mu.Unlock()
	return c
}

// Generate implements llm.LLMClient.
func (c *Client) Generate(ctx context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	return c.next(ctx, Call{Op: "generate", Prompt: prompt})
}

// Chat implements llm.LLMClient.
func (c *Client) Chat(ctx context.Context, messages []llm.ChatMessage, _ llm.GenerationParams) (string, error) {
	cp := append([]llm.ChatMessage(nil), messages...)
	return c.next(ctx, Call{Op: "chat", Messages: cp})
}

func (c *Client) next(ctx context.Context, call Call) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.calls = append(c.calls, call)
	if len(c.replies) > 0 {
		r := c.replies[0]
		c.replies = c.replies[1:]
		c.mu.Unlock()
		return r.Text, r.Err
	}
	fb := c.Fallback
	c.mu.Unlock()
	if fb != nil {
		return fb(call)
	}
	return "", ErrScriptExhausted
}

// CallCount reports how many calls were made.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Calls returns a copy of the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// LastCall returns the most recent call and whether there was one.
func (c *Client) LastCall() (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return Call{}, false
	}
	return c.calls[len(c.calls)-1], true
}

var _ llm.LLMClient = (*Client)(nil)
