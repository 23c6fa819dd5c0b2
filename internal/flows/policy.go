package flows

import (
	"net/netip"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/principal"
)

// CheckIPAllowList reports whether ip is permitted by allow. An empty list
// permits everything. Entries containing "/" are CIDR prefixes; all other
// entries match as textual prefixes of the address.
func CheckIPAllowList(ip string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}
	addr, addrErr := netip.ParseAddr(ip)
	for _, entry := range allow {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && addrErr == nil && prefix.Contains(addr.Unmap()) {
				return true
			}
			continue
		}
		if strings.HasPrefix(ip, entry) {
			return true
		}
	}
	return false
}

// CheckLoginHours reports whether hour (0-23) lies inside the window. A
// zero bound is unset; with both unset every hour is allowed.
func CheckLoginHours(hour, before, after int) bool {
	if before > 0 && hour > before {
		return false
	}
	if after > 0 && hour < after {
		return false
	}
	return true
}

// RunPolicyCheck applies the IP allow-list then the login-hours window.
func RunPolicyCheck(ip string, p *principal.Principal, now time.Time, loc *time.Location) *Rejection {
	if !CheckIPAllowList(ip, p.RestrictIP) {
		return &Rejection{Kind: RejectPolicy, Reason: ReasonIPNotAllowed, User: p.ID}
	}
	if loc != nil {
		now = now.In(loc)
	}
	if !CheckLoginHours(now.Hour(), p.LoginBefore, p.LoginAfter) {
		return &Rejection{Kind: RejectPolicy, Reason: ReasonHourNotAllowed, User: p.ID}
	}
	return nil
}

func finishWithPolicy(out LoginOutcome, ip string, now time.Time, loc *time.Location) LoginOutcome {
	out.State = StatePolicyCheck
	if r := RunPolicyCheck(ip, out.Principal, now, loc); r != nil {
		return LoginOutcome{State: StateRejected, Rejection: r}
	}
	out.State = StateSessionEstablished
	return out
}
