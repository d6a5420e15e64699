package authapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"bastion/cmd/internal/auth/family"
)

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// toSessionViews renders a family directory with the caller's own session
// first, then the rest by most recent use.
func toSessionViews(infos []family.FamilyInfo, currentFamilyID string) []sessionView {
	views := make([]sessionView, 0, len(infos))
	for _, fi := range infos {
		views = append(views, sessionView{
			FamilyID:   fi.FamilyID,
			DeviceInfo: deref(fi.DeviceInfo),
			UserAgent:  deref(fi.UserAgent),
			IssuedAt:   fi.IssuedAt.UTC().Format(time.RFC3339),
			LastUsedAt: fi.LastUsedAt.UTC().Format(time.RFC3339),
			Current:    currentFamilyID != "" && fi.FamilyID == currentFamilyID,
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Current != views[j].Current {
			return views[i].Current
		}
		return views[i].LastUsedAt > views[j].LastUsedAt
	})
	return views
}
