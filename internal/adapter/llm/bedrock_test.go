package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"chatstream/internal/domain"
)

type mockConverseClient struct {
	converseFunc func(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

func (m *mockConverseClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	if m.converseFunc != nil {
		return m.converseFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockConverseClient) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, fmt.Errorf("not implemented")
}

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.code + ": " + e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestBedrockChat(t *testing.T) {
	var receivedInput *bedrockruntime.ConverseInput

	mock := &mockConverseClient{
		converseFunc: func(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
			receivedInput = params
			return &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberText{Value: "Hello from Bedrock"},
						},
					},
				},
				Usage: &types.TokenUsage{
					InputTokens:  aws.Int32(10),
					OutputTokens: aws.Int32(5),
				},
			}, nil
		},
	}

	provider := newBedrockProviderWithClient("bedrock-test", "anthropic.claude-3-5-sonnet", mock, newTestLogger())

	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "You are helpful."},
			{Role: domain.RoleUser, Content: "Hello"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "Hello from Bedrock" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}

	if receivedInput == nil {
		t.Fatal("expected input to be captured")
	}
	if len(receivedInput.System) != 1 {
		t.Fatalf("system blocks = %d, want 1", len(receivedInput.System))
	}
	if len(receivedInput.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 (system extracted)", len(receivedInput.Messages))
	}
}

func TestBedrockErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		message string
		wantErr error
	}{
		{"throttling", "ThrottlingException", "rate limited", domain.ErrRateLimit},
		{"access denied", "AccessDeniedException", "no access", domain.ErrAuthInvalid},
		{"context too long", "ValidationException", "input is too long", domain.ErrContextOverflow},
		{"internal error", "InternalServerException", "server error", domain.ErrToolFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyBedrockError(&mockAPIError{code: tt.code, message: tt.message})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	// Unrecognized errors pass through untouched.
	plain := errors.New("dial tcp: timeout")
	if got := classifyBedrockError(plain); got != plain {
		t.Errorf("plain error was rewritten: %v", got)
	}
}

func TestBedrockStreamEventConversion(t *testing.T) {
	delta := convertStreamEvent(&types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			Delta: &types.ContentBlockDeltaMemberText{Value: "Hello"},
		},
	})
	if delta == nil || delta.Content != "Hello" {
		t.Errorf("text delta: got %+v", delta)
	}

	delta = convertStreamEvent(&types.ConverseStreamOutputMemberContentBlockStart{
		Value: types.ContentBlockStartEvent{
			Start: &types.ContentBlockStartMemberToolUse{
				Value: types.ToolUseBlockStart{
					ToolUseId: aws.String("tool_1"),
					Name:      aws.String("web_search"),
				},
			},
		},
	})
	if delta == nil || len(delta.ToolCalls) != 1 || delta.ToolCalls[0].ID != "tool_1" {
		t.Fatalf("tool start: got %+v", delta)
	}

	delta = convertStreamEvent(&types.ConverseStreamOutputMemberMetadata{
		Value: types.ConverseStreamMetadataEvent{
			Usage: &types.TokenUsage{
				InputTokens:  aws.Int32(10),
				OutputTokens: aws.Int32(20),
			},
		},
	})
	if delta == nil || !delta.Done || delta.Usage == nil || delta.Usage.TotalTokens != 30 {
		t.Fatalf("metadata: got %+v", delta)
	}
}
