package otp

import "strings"

// Channel is the delivery method for a challenge.
type Channel uint8

const (
	ChannelApp Channel = iota + 1
	ChannelEmail
	ChannelSMS
)

func (c Channel) String() string {
	switch c {
	case ChannelApp:
		return "OTP App"
	case ChannelEmail:
		return "Email"
	case ChannelSMS:
		return "SMS"
	default:
		return "Unknown"
	}
}

// ParseChannel accepts the stored labels and a few short forms.
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "otp app", "app", "totp":
		return ChannelApp, true
	case "email", "mail":
		return ChannelEmail, true
	case "sms":
		return ChannelSMS, true
	default:
		return 0, false
	}
}

// TimeBased reports whether codes for c are TOTP.
func (c Channel) TimeBased() bool {
	return c == ChannelApp
}
