package email

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"family-safety-control/internal/model"
)

// Notifier tells parents about things that need their attention. Delivery
// failures are logged and never propagated.
type Notifier struct {
	sender     Sender
	recipients []string
	dashboard  string
	logger     *slog.Logger
}

// NewNotifier returns a notifier mailing recipients through sender.
// dashboardURL, when set, is linked from every message.
func NewNotifier(sender Sender, recipients []string, dashboardURL string) *Notifier {
	return &Notifier{
		sender:     sender,
		recipients: recipients,
		dashboard:  strings.TrimRight(dashboardURL, "/"),
		logger:     slog.With("component", "notify"),
	}
}

// Enabled reports whether anyone would receive mail.
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil && len(n.recipients) > 0
}

// RequestCreated announces a new access request.
func (n *Notifier) RequestCreated(ctx context.Context, childName string, req model.AccessRequest) {
	if !n.Enabled() {
		return
	}

	var what string
	switch req.Type {
	case model.RequestMoreTime:
		what = fmt.Sprintf("%d more minutes of screen time", req.ExtraMinutes)
	case model.RequestUnblockApp:
		what = fmt.Sprintf("access to the app <b>%s</b>", html.EscapeString(req.Target))
	case model.RequestUnblockSite:
		what = fmt.Sprintf("access to <b>%s</b>", html.EscapeString(req.Target))
	default:
		what = html.EscapeString(string(req.Type))
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>%s is asking for %s.</p>", html.EscapeString(childName), what)
	if req.Reason != "" {
		fmt.Fprintf(&body, "<p>Reason: <i>%s</i></p>", html.EscapeString(req.Reason))
	}
	if n.dashboard != "" {
		fmt.Fprintf(&body, `<p><a href="%s/requests/%s">Review the request</a></p>`, n.dashboard, req.ID)
	}

	n.send(ctx, &Message{
		To:      n.recipients,
		Subject: fmt.Sprintf("%s sent an access request", childName),
		HTML:    body.String(),
	})
}

// IntegrityAlert announces circumvention signals reported by a device.
func (n *Notifier) IntegrityAlert(ctx context.Context, childName, deviceName string, signals model.CircumventionSignals) {
	if !n.Enabled() {
		return
	}

	var items []string
	if signals.VPNSuspected {
		items = append(items, "<li>VPN suspected</li>")
	}
	if signals.ProxySuspected {
		items = append(items, "<li>Proxy suspected</li>")
	}
	if signals.PublicDNSSuspected {
		items = append(items, "<li>Public DNS resolver in use</li>")
	}
	if signals.HostsWriteFailed {
		items = append(items, "<li>Blocklist could not be written</li>")
	}

	n.send(ctx, &Message{
		To:      n.recipients,
		Subject: fmt.Sprintf("Safety check on %s's device %s", childName, deviceName),
		HTML:    fmt.Sprintf("<p>%s reported:</p><ul>%s</ul>", html.EscapeString(deviceName), strings.Join(items, "")),
	})
}

func (n *Notifier) send(ctx context.Context, msg *Message) {
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Warn("Failed to send notification", "subject", msg.Subject, "error", err)
		return
	}
	n.logger.Debug("Notification sent", "subject", msg.Subject, "recipients", len(msg.To))
}
