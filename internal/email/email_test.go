package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-safety-control/internal/model"
)

type captureSender struct {
	sent []*Message
	err  error
}

func (c *captureSender) Send(ctx context.Context, msg *Message) error {
	c.sent = append(c.sent, msg)
	return c.err
}

func TestHTMLToText(t *testing.T) {
	text, err := htmlToText("<p>Hello <b>there</b></p>")
	require.NoError(t, err)
	assert.Contains(t, text, "Hello")
	assert.NotContains(t, text, "<b>")
}

func TestBuildMessage(t *testing.T) {
	c := NewClient("smtp.example.com", 25, "", "", "noreply@example.com")
	m, err := c.buildMessage(&Message{To: []string{"parent@example.com"}, Subject: "Hi", Text: "hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi"}, m.GetGenHeader("Subject"))

	_, err = c.buildMessage(&Message{To: []string{"not an address"}})
	assert.Error(t, err)
}

func TestSend_NotConfigured(t *testing.T) {
	c := NewClient("", 25, "", "", "noreply@example.com")
	err := c.Send(context.Background(), &Message{To: []string{"a@example.com"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNotifier_RequestCreated(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(sender, []string{"parent@example.com"}, "https://family.example/")

	n.RequestCreated(context.Background(), "Ada", model.AccessRequest{
		ID: "req-1", Type: model.RequestUnblockSite, Target: "<script>.example", Reason: "homework",
	})
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "Ada sent an access request", msg.Subject)
	assert.Contains(t, msg.HTML, "&lt;script&gt;.example")
	assert.Contains(t, msg.HTML, "https://family.example/requests/req-1")
}

func TestNotifier_FailuresAreSwallowed(t *testing.T) {
	sender := &captureSender{err: errors.New("relay down")}
	n := NewNotifier(sender, []string{"parent@example.com"}, "")

	assert.NotPanics(t, func() {
		n.IntegrityAlert(context.Background(), "Ada", "Kid-PC", model.CircumventionSignals{VPNSuspected: true})
	})
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].HTML, "VPN suspected")
}

func TestNotifier_DisabledWithoutRecipients(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(sender, nil, "")
	assert.False(t, n.Enabled())
	n.RequestCreated(context.Background(), "Ada", model.AccessRequest{})
	assert.Empty(t, sender.sent)

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
}
