package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSESClient implements SESAPI for testing
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	Sent          []*ses.SendEmailInput
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.Sent = append(m.Sent, params)
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESNotifier_AccountLocked(t *testing.T) {
	client := &MockSESClient{}
	n := NewSESNotifierWithClient(client, "security@keystone.test", discardLogger())
	until := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	err := n.NotifyAccountLocked(context.Background(), &models.User{ID: "u-1", Email: "amy@example.com"}, until, testRC)
	require.NoError(t, err)

	require.Len(t, client.Sent, 1)
	sent := client.Sent[0]
	assert.Equal(t, "security@keystone.test", aws.ToString(sent.Source))
	assert.Equal(t, []string{"amy@example.com"}, sent.Destination.ToAddresses)
	body := aws.ToString(sent.Message.Body.Text.Data)
	assert.Contains(t, body, until.Format(time.RFC1123))
	assert.Contains(t, body, testRC.IPAddress)
}

func TestSESNotifier_TokenReuse(t *testing.T) {
	client := &MockSESClient{}
	n := NewSESNotifierWithClient(client, "security@keystone.test", discardLogger())

	err := n.NotifyTokenReuse(context.Background(), &models.User{ID: "u-1", Email: "amy@example.com"}, 3, models.RequestContext{})
	require.NoError(t, err)

	body := aws.ToString(client.Sent[0].Message.Body.Text.Data)
	assert.Contains(t, body, "3 active sessions")
	assert.Contains(t, body, "unknown")
	assert.True(t, strings.HasPrefix(aws.ToString(client.Sent[0].Message.Subject.Data), "Security alert"))
}

func TestSESNotifier_SendError(t *testing.T) {
	client := &MockSESClient{SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
		return nil, assert.AnError
	}}
	n := NewSESNotifierWithClient(client, "security@keystone.test", discardLogger())

	err := n.NotifyTokenReuse(context.Background(), &models.User{Email: "amy@example.com"}, 1, testRC)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAuthService_NotifierFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.NotifyAccountLockedFunc = func(ctx context.Context, user *models.User, until time.Time, rc models.RequestContext) error {
		return assert.AnError
	}
	env.seedUser(t, "gus@example.com", "Correct#Horse1")

	var last *LoginResult
	for i := 0; i < 5; i++ {
		last = env.login(t, "gus@example.com", "wrong")
	}
	assert.Equal(t, models.FailureAccountLocked, last.Failure)
	assert.Len(t, env.notifier.LockedCalls, 1)
}
